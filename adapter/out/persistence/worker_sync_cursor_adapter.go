package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"jenn_worker/core/domain"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// SyncCursorAdapter - 메일함별 UID watermark
// =============================================================================

// The watermark is stored as TEXT for compatibility with rows written by older workers;
// every comparison casts to bigint so "10" > "9" holds.
type SyncCursorAdapter struct {
	db *sqlx.DB
}

func NewSyncCursorAdapter(db *sqlx.DB) *SyncCursorAdapter {
	return &SyncCursorAdapter{db: db}
}

type syncCursorEntity struct {
	MailboxID   int64        `db:"mailbox_id"`
	LastSeenUID string       `db:"last_seen_uid"`
	UpdatedAt   sql.NullTime `db:"updated_at"`
}

func (e *syncCursorEntity) toDomain() (*domain.SyncCursor, error) {
	c := &domain.SyncCursor{MailboxID: e.MailboxID}
	if e.LastSeenUID != "" {
		uid, err := strconv.ParseInt(e.LastSeenUID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("mailbox %d has a corrupt watermark %q: %w", e.MailboxID, e.LastSeenUID, err)
		}
		c.LastSeenUID = uid
	}
	if e.UpdatedAt.Valid {
		c.UpdatedAt = e.UpdatedAt.Time
	}
	return c, nil
}

func (a *SyncCursorAdapter) Get(ctx context.Context, mailboxID int64) (*domain.SyncCursor, error) {
	var entity syncCursorEntity
	query := `SELECT mailbox_id, last_seen_uid, updated_at FROM sync_cursors WHERE mailbox_id = $1`
	if err := a.db.GetContext(ctx, &entity, query, mailboxID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.SyncCursor{MailboxID: mailboxID}, nil
		}
		return nil, err
	}
	return entity.toDomain()
}

// AdvanceIfGreater is a single conditional upsert, so concurrent writers can only move the
// watermark forward.
func (a *SyncCursorAdapter) AdvanceIfGreater(ctx context.Context, mailboxID int64, uid int64) (bool, error) {
	query := `
		INSERT INTO sync_cursors (mailbox_id, last_seen_uid, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (mailbox_id) DO UPDATE
		SET last_seen_uid = EXCLUDED.last_seen_uid, updated_at = EXCLUDED.updated_at
		WHERE sync_cursors.last_seen_uid::bigint < EXCLUDED.last_seen_uid::bigint`

	res, err := a.db.ExecContext(ctx, query, mailboxID, strconv.FormatInt(uid, 10), time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
