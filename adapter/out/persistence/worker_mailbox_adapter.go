package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jenn_worker/core/domain"
	"jenn_worker/pkg/crypto"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// MailboxAdapter - 동기화 대상 메일함
// =============================================================================

type MailboxAdapter struct {
	db  *sqlx.DB
	enc *crypto.Encryptor
}

// NewMailboxAdapter creates the adapter. enc may be nil when secrets are stored in plaintext
// (local development only).
func NewMailboxAdapter(db *sqlx.DB, enc *crypto.Encryptor) *MailboxAdapter {
	return &MailboxAdapter{db: db, enc: enc}
}

type mailboxEntity struct {
	ID             int64          `db:"id"`
	EmailAccountID int64          `db:"email_account_id"`
	UserID         uuid.UUID      `db:"user_id"`
	Provider       string         `db:"provider"`
	Address        string         `db:"address"`
	Host           sql.NullString `db:"host"`
	Port           sql.NullInt32  `db:"port"`
	Username       sql.NullString `db:"username"`
	Folder         sql.NullString `db:"folder"`
	PasswordEnc    sql.NullString `db:"password_enc"`
	RefreshEnc     sql.NullString `db:"refresh_token_enc"`
	HasAIAccess    bool           `db:"has_ai_access"`
	IsActive       bool           `db:"is_active"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

const mailboxColumns = `id, email_account_id, user_id, provider, address, host, port, username, folder,
	password_enc, refresh_token_enc, has_ai_access, is_active, created_at, updated_at`

func (a *MailboxAdapter) toDomain(e *mailboxEntity) (*domain.Mailbox, error) {
	m := &domain.Mailbox{
		ID:             e.ID,
		EmailAccountID: e.EmailAccountID,
		UserID:         e.UserID,
		Provider:       domain.MailProviderType(e.Provider),
		Address:        e.Address,
		Host:           e.Host.String,
		Port:           int(e.Port.Int32),
		Username:       e.Username.String,
		Folder:         e.Folder.String,
		HasAIAccess:    e.HasAIAccess,
		IsActive:       e.IsActive,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
	var err error
	if m.Password, err = a.reveal(e.PasswordEnc.String); err != nil {
		return nil, fmt.Errorf("mailbox %d password: %w", e.ID, err)
	}
	if m.RefreshToken, err = a.reveal(e.RefreshEnc.String); err != nil {
		return nil, fmt.Errorf("mailbox %d refresh token: %w", e.ID, err)
	}
	return m, nil
}

func (a *MailboxAdapter) reveal(s string) (string, error) {
	if a.enc == nil || !crypto.IsEncrypted(s) {
		return s, nil
	}
	return a.enc.Decrypt(s)
}

func (a *MailboxAdapter) GetByID(ctx context.Context, id int64) (*domain.Mailbox, error) {
	var entity mailboxEntity
	query := `SELECT ` + mailboxColumns + ` FROM mailboxes WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a.toDomain(&entity)
}

func (a *MailboxAdapter) ListActive(ctx context.Context) ([]*domain.Mailbox, error) {
	var entities []mailboxEntity
	query := `SELECT ` + mailboxColumns + ` FROM mailboxes WHERE is_active = true ORDER BY id`
	if err := a.db.SelectContext(ctx, &entities, query); err != nil {
		return nil, err
	}

	mailboxes := make([]*domain.Mailbox, 0, len(entities))
	for i := range entities {
		m, err := a.toDomain(&entities[i])
		if err != nil {
			// 복호화 실패한 메일함 하나 때문에 전체 cron 이 멈추면 안 됨
			continue
		}
		mailboxes = append(mailboxes, m)
	}
	return mailboxes, nil
}
