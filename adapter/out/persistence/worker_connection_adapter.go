package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jenn_worker/core/domain"
	"jenn_worker/pkg/crypto"
	"jenn_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// ConnectionAdapter - connector_connections (credential blob is AES-GCM sealed)
// =============================================================================

// ErrInvalidInput is returned for a nil connection or missing credentials.
var ErrInvalidInput = errors.New("invalid input")

type ConnectionAdapter struct {
	db  *sqlx.DB
	enc *crypto.Encryptor
}

func NewConnectionAdapter(db *sqlx.DB, enc *crypto.Encryptor) *ConnectionAdapter {
	return &ConnectionAdapter{db: db, enc: enc}
}

type connectionEntity struct {
	ID             int64     `db:"id"`
	EmailAccountID int64     `db:"email_account_id"`
	Type           string    `db:"connector_type"`
	Credentials    []byte    `db:"credentials_enc"`
	IsActive       bool      `db:"is_active"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const connectionColumns = `id, email_account_id, connector_type, credentials_enc, is_active, created_at, updated_at`

func (a *ConnectionAdapter) toDomain(e *connectionEntity) (*domain.Connection, error) {
	raw := e.Credentials
	if a.enc != nil {
		plain, err := a.enc.Open(raw)
		if err != nil {
			return nil, fmt.Errorf("connection %d: %w", e.ID, err)
		}
		raw = plain
	}
	t := domain.ConnectorType(e.Type)
	creds, err := domain.DecodeCredentials(t, raw)
	if err != nil {
		return nil, fmt.Errorf("connection %d: %w", e.ID, err)
	}
	return &domain.Connection{
		ID:             e.ID,
		EmailAccountID: e.EmailAccountID,
		Type:           t,
		Credentials:    creds,
		IsActive:       e.IsActive,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}, nil
}

// ListActive skips rows that fail to decrypt or decode; they surface as a missing connector.
func (a *ConnectionAdapter) ListActive(ctx context.Context, emailAccountID int64) ([]*domain.Connection, error) {
	var entities []connectionEntity
	query := `SELECT ` + connectionColumns + ` FROM connector_connections
		WHERE email_account_id = $1 AND is_active = true ORDER BY id`
	if err := a.db.SelectContext(ctx, &entities, query, emailAccountID); err != nil {
		return nil, err
	}

	conns := make([]*domain.Connection, 0, len(entities))
	for i := range entities {
		c, err := a.toDomain(&entities[i])
		if err != nil {
			logger.WithError(err).Warn("[ConnectionAdapter.ListActive] skipping unreadable connection")
			continue
		}
		conns = append(conns, c)
	}
	return conns, nil
}

// GetActive returns nil, nil when there is no usable connection of that type.
func (a *ConnectionAdapter) GetActive(ctx context.Context, emailAccountID int64, t domain.ConnectorType) (*domain.Connection, error) {
	var entity connectionEntity
	query := `SELECT ` + connectionColumns + ` FROM connector_connections
		WHERE email_account_id = $1 AND connector_type = $2 AND is_active = true
		ORDER BY updated_at DESC LIMIT 1`
	if err := a.db.GetContext(ctx, &entity, query, emailAccountID, string(t)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c, err := a.toDomain(&entity)
	if err != nil {
		logger.WithError(err).Warn("[ConnectionAdapter.GetActive] unreadable %s connection", t)
		return nil, nil
	}
	return c, nil
}

// Save validates and seals the credentials, then upserts on (email_account_id, connector_type).
func (a *ConnectionAdapter) Save(ctx context.Context, conn *domain.Connection) error {
	if conn == nil || conn.Credentials == nil {
		return ErrInvalidInput
	}
	if err := conn.Credentials.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(conn.Credentials)
	if err != nil {
		return err
	}
	if a.enc != nil {
		if blob, err = a.enc.Seal(blob); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO connector_connections (email_account_id, connector_type, credentials_enc, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (email_account_id, connector_type) DO UPDATE SET
			credentials_enc = EXCLUDED.credentials_enc,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id`
	return a.db.QueryRowxContext(ctx, query,
		conn.EmailAccountID, string(conn.Credentials.Connector()), blob, conn.IsActive,
	).Scan(&conn.ID)
}
