package http

import (
	"context"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// OrderSyncer copies shop orders into the ERP.
type OrderSyncer interface {
	SyncOrder(ctx context.Context, req domain.SyncOrderRequest) (*domain.BridgeSyncResult, error)
}

type BridgeHandler struct {
	mailboxes out.MailboxRepository
	bridge    OrderSyncer
}

func NewBridgeHandler(mailboxes out.MailboxRepository, bridge OrderSyncer) *BridgeHandler {
	return &BridgeHandler{mailboxes: mailboxes, bridge: bridge}
}

func (h *BridgeHandler) Register(router fiber.Router) {
	router.Post("/bridge/orders", h.SyncOrder)
}

type bridgeOrderRequest struct {
	MailboxID int64  `json:"mailbox_id"`
	OrderID   int64  `json:"source_order_id"`
	Reference string `json:"source_order_reference"`
	Confirm   bool   `json:"confirm"`
}

// SyncOrder copies one PrestaShop order into Odoo for the mailbox's email account.
// POST /bridge/orders
func (h *BridgeHandler) SyncOrder(c *fiber.Ctx) error {
	var req bridgeOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}

	mailbox, err := ownedMailbox(c, h.mailboxes, req.MailboxID)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	result, err := h.bridge.SyncOrder(c.UserContext(), domain.SyncOrderRequest{
		EmailAccountID:       mailbox.EmailAccountID,
		SourceOrderID:        req.OrderID,
		SourceOrderReference: req.Reference,
		Confirm:              req.Confirm,
	})
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if result.Status == domain.BridgeStatusCreated {
		c.Status(fiber.StatusCreated)
	}
	return SuccessResponse(c, result)
}
