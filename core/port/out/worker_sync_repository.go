package out

import (
	"context"

	"jenn_worker/core/domain"
)

// SyncCursorRepository - 메일함별 UID watermark 저장소
type SyncCursorRepository interface {
	// Get returns the cursor, or a zero cursor when the mailbox has never synced.
	Get(ctx context.Context, mailboxID int64) (*domain.SyncCursor, error)

	// AdvanceIfGreater raises the watermark to uid only when uid is larger than the stored value.
	// It reports whether the row changed.
	AdvanceIfGreater(ctx context.Context, mailboxID int64, uid int64) (bool, error)
}

// MailboxRepository - 동기화 대상 메일함 조회
type MailboxRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Mailbox, error)
	ListActive(ctx context.Context) ([]*domain.Mailbox, error)
}

// RuleRepository - 메일함 규칙 조회
type RuleRepository interface {
	ListActiveByAccount(ctx context.Context, emailAccountID int64) ([]*domain.MailRule, error)
}
