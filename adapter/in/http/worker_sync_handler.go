package http

import (
	"context"
	"errors"
	"strconv"

	"jenn_worker/core/domain"
	mail "jenn_worker/core/service/email"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// MailboxSyncer runs one sync pass.
type MailboxSyncer interface {
	Sync(ctx context.Context, mailboxID int64, opts mail.SyncOptions) (*domain.SyncResult, error)
}

type SyncHandler struct {
	mailboxes out.MailboxRepository
	syncer    MailboxSyncer
}

func NewSyncHandler(mailboxes out.MailboxRepository, syncer MailboxSyncer) *SyncHandler {
	return &SyncHandler{mailboxes: mailboxes, syncer: syncer}
}

// ownedMailbox loads a mailbox of the authenticated user. Other users' mailboxes read as missing.
func ownedMailbox(c *fiber.Ctx, mailboxes out.MailboxRepository, mailboxID int64) (*domain.Mailbox, error) {
	userID, err := GetUserID(c)
	if err != nil {
		return nil, apperr.Unauthorized("")
	}
	if mailboxID <= 0 {
		return nil, apperr.InvalidInput("mailbox_id", "must be a positive integer")
	}
	mailbox, err := mailboxes.GetByID(c.UserContext(), mailboxID)
	if err != nil {
		return nil, apperr.DatabaseError("load mailbox", err)
	}
	if mailbox == nil || mailbox.UserID != userID {
		return nil, apperr.NotFound("mailbox")
	}
	return mailbox, nil
}

func (h *SyncHandler) Register(router fiber.Router) {
	router.Post("/mailboxes/:id/sync", h.SyncNow)
}

// syncSummary is the "sync now" response.
type syncSummary struct {
	Count     int                     `json:"count"`
	Processed int                     `json:"processed"`
	Failed    int                     `json:"failed"`
	LastUID   int64                   `json:"lastUid"`
	Messages  []domain.MessagePreview `json:"messages"`
}

// SyncNow runs a manual pass over one of the caller's mailboxes.
// POST /mailboxes/:id/sync?limit=50
func (h *SyncHandler) SyncNow(c *fiber.Ctx) error {
	mailboxID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || mailboxID <= 0 {
		return AppErrorResponse(c, apperr.InvalidInput("id", "must be a positive integer"))
	}
	if _, err := ownedMailbox(c, h.mailboxes, mailboxID); err != nil {
		return AppErrorResponse(c, err)
	}

	res, err := h.syncer.Sync(c.UserContext(), mailboxID, mail.SyncOptions{
		Trigger: domain.SyncTriggerManual,
		Limit:   c.QueryInt("limit", 0),
	})
	if errors.Is(err, mail.ErrSyncInProgress) {
		return AppErrorResponse(c, apperr.SyncInProgress(mailboxID))
	}
	if err != nil {
		return AppErrorResponse(c, err)
	}

	messages := res.Messages
	if messages == nil {
		messages = []domain.MessagePreview{}
	}
	return SuccessResponse(c, syncSummary{
		Count:     res.Fetched,
		Processed: res.Processed,
		Failed:    res.Failed,
		LastUID:   res.NewWatermark,
		Messages:  messages,
	})
}
