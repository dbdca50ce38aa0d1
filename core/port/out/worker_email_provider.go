// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"jenn_worker/core/domain"
)

// =============================================================================
// Mail Provider Port (Gmail, Outlook, plain IMAP)
// =============================================================================

// MailProvider is an opened session on one mailbox. The sync core does not know
// which concrete provider implements it.
type MailProvider interface {
	// GetMessagesAfterUID returns messages with UID > lastUID in ascending order.
	// limit <= 0 means no explicit cap.
	GetMessagesAfterUID(ctx context.Context, lastUID int64, limit int) ([]*domain.FetchedMessage, error)
	GetMessage(ctx context.Context, uid int64) (*domain.FetchedMessage, error)
	// GetThread returns up to limit of the newest messages sharing threadKey, in ascending UID order.
	GetThread(ctx context.Context, threadKey string, limit int) ([]*domain.FetchedMessage, error)

	MailMessageModifier
	MailDraftWriter

	Close() error
}

// MailMessageModifier handles modifying messages.
type MailMessageModifier interface {
	Archive(ctx context.Context, uid int64) error
	Label(ctx context.Context, uid int64, label string) error
	MarkRead(ctx context.Context, uid int64) error
}

// MailDraftWriter stores composed replies as drafts.
type MailDraftWriter interface {
	AppendDraft(ctx context.Context, draft *domain.OutgoingDraft) error
}

// MailProviderFactory opens provider sessions for a mailbox.
type MailProviderFactory interface {
	Open(ctx context.Context, mailbox *domain.Mailbox) (MailProvider, error)
}
