package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Mailbox - 동기화 대상 메일함
// =============================================================================

type MailProviderType string

const (
	MailProviderGmail   MailProviderType = "gmail"
	MailProviderOutlook MailProviderType = "outlook"
	MailProviderIMAP    MailProviderType = "imap"
)

// Mailbox is one IMAP-reachable inbox owned by an email account.
type Mailbox struct {
	ID             int64            `json:"id"`
	EmailAccountID int64            `json:"email_account_id"`
	UserID         uuid.UUID        `json:"user_id"`
	Provider       MailProviderType `json:"provider"`
	Address        string           `json:"address"`
	Host           string           `json:"host"`
	Port           int              `json:"port"`
	Username       string           `json:"username"`
	Folder         string           `json:"folder"`

	// Exactly one of these is set: app password for plain IMAP, refresh token for OAuth providers.
	// Both are stored encrypted and decrypted by the repository.
	Password     string `json:"-"`
	RefreshToken string `json:"-"`

	HasAIAccess bool      `json:"has_ai_access"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InboxFolder returns the folder to sync, INBOX when unset.
func (m *Mailbox) InboxFolder() string {
	if m.Folder == "" {
		return "INBOX"
	}
	return m.Folder
}

// =============================================================================
// SyncCursor - UID watermark (메일함별 마지막 처리 UID)
// =============================================================================

// SyncCursor is the persisted per-mailbox watermark. LastSeenUID never decreases.
type SyncCursor struct {
	MailboxID   int64     `json:"mailbox_id"`
	LastSeenUID int64     `json:"last_seen_uid"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// FetchedMessage is one unseen message handed to the rule pipeline. Not persisted by sync.
type FetchedMessage struct {
	UID       int64     `json:"uid"`
	MessageID string    `json:"message_id"`
	InReplyTo string    `json:"in_reply_to,omitempty"`
	ThreadKey string    `json:"thread_key,omitempty"`
	From      string    `json:"from"`
	FromName  string    `json:"from_name,omitempty"`
	To        []string  `json:"to,omitempty"`
	Cc        []string  `json:"cc,omitempty"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	TextBody  string    `json:"text_body,omitempty"`
	HTMLBody  string    `json:"html_body,omitempty"`
	Snippet   string    `json:"snippet,omitempty"`
	Flags     []string  `json:"flags,omitempty"`
}

// PlainText returns the text body, falling back to the snippet.
func (m *FetchedMessage) PlainText() string {
	if m.TextBody != "" {
		return m.TextBody
	}
	return m.Snippet
}

// =============================================================================
// Sync pass
// =============================================================================

type SyncTrigger string

const (
	SyncTriggerCron   SyncTrigger = "cron"
	SyncTriggerManual SyncTrigger = "manual"
)

// AdvancePolicy decides how far the watermark moves after a pass.
type AdvancePolicy string

const (
	// AdvanceMaxSeen moves to the highest UID observed, failed messages included (at-most-once).
	AdvanceMaxSeen AdvancePolicy = "max_seen"
	// AdvanceContiguous stops before the first failed UID so it is retried next pass (at-least-once).
	AdvanceContiguous AdvancePolicy = "contiguous"
)

// MessagePreview is the per-message line of a manual sync summary.
type MessagePreview struct {
	UID     int64     `json:"uid"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Status  string    `json:"status"` // processed, failed
	Error   string    `json:"error,omitempty"`
}

// SyncResult summarises one sync pass.
type SyncResult struct {
	MailboxID         int64            `json:"mailbox_id"`
	Trigger           SyncTrigger      `json:"trigger"`
	Fetched           int              `json:"count"`
	Processed         int              `json:"processed"`
	Failed            int              `json:"failed"`
	PreviousWatermark int64            `json:"previous_uid"`
	NewWatermark      int64            `json:"last_uid"`
	NoNewMessages     bool             `json:"no_new_messages"`
	Messages          []MessagePreview `json:"messages,omitempty"`
	DurationMs        int64            `json:"duration_ms"`
}
