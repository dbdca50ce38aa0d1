package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jenn_worker/core/domain"
	"jenn_worker/pkg/crypto"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// LLMAdapter - usage rows, user error notices, per-user model settings
// =============================================================================

type LLMAdapter struct {
	db  *sqlx.DB
	enc *crypto.Encryptor
}

func NewLLMAdapter(db *sqlx.DB, enc *crypto.Encryptor) *LLMAdapter {
	return &LLMAdapter{db: db, enc: enc}
}

// RecordUsage implements out.UsageRecorder.
func (a *LLMAdapter) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO llm_usage (id, user_id, email_account_id, email, provider, model, label,
			prompt_tokens, completion_tokens, total_tokens, estimated, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := a.db.ExecContext(ctx, query,
		rec.ID, rec.Account.UserID, rec.Account.EmailAccountID, rec.Account.Email,
		rec.Provider, rec.Model, rec.Label,
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.Estimated, rec.Attempts, rec.CreatedAt,
	)
	return err
}

// =============================================================================
// Error notices (one open notice per user and category)
// =============================================================================

type errorNoticeEntity struct {
	ID        int64     `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Email     string    `db:"email"`
	Category  string    `db:"category"`
	Message   string    `db:"message"`
	Label     string    `db:"label"`
	Model     string    `db:"model"`
	CreatedAt time.Time `db:"created_at"`
}

// NotifyUserError implements out.ErrorNotifier. A repeated failure refreshes the open notice
// instead of stacking a new one.
func (a *LLMAdapter) NotifyUserError(ctx context.Context, n domain.UserErrorNotice) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO user_error_notices (user_id, email, category, message, label, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, category) WHERE resolved_at IS NULL DO UPDATE
		SET message = EXCLUDED.message, label = EXCLUDED.label, model = EXCLUDED.model,
		    email = EXCLUDED.email, created_at = EXCLUDED.created_at`
	_, err := a.db.ExecContext(ctx, query, n.UserID, n.Email, string(n.Category), n.Message, n.Label, n.Model, n.CreatedAt)
	return err
}

func (a *LLMAdapter) ListOpen(ctx context.Context, userID uuid.UUID) ([]*domain.UserErrorNotice, error) {
	var entities []errorNoticeEntity
	query := `
		SELECT id, user_id, email, category, message, label, model, created_at
		FROM user_error_notices
		WHERE user_id = $1 AND resolved_at IS NULL
		ORDER BY created_at DESC`
	if err := a.db.SelectContext(ctx, &entities, query, userID); err != nil {
		return nil, err
	}
	notices := make([]*domain.UserErrorNotice, len(entities))
	for i, e := range entities {
		notices[i] = &domain.UserErrorNotice{
			ID:        e.ID,
			UserID:    e.UserID,
			Email:     e.Email,
			Category:  domain.ErrorCategory(e.Category),
			Message:   e.Message,
			Label:     e.Label,
			Model:     e.Model,
			CreatedAt: e.CreatedAt,
		}
	}
	return notices, nil
}

func (a *LLMAdapter) Resolve(ctx context.Context, userID uuid.UUID, category domain.ErrorCategory) error {
	query := `UPDATE user_error_notices SET resolved_at = NOW() WHERE user_id = $1 AND category = $2 AND resolved_at IS NULL`
	_, err := a.db.ExecContext(ctx, query, userID, string(category))
	return err
}

// =============================================================================
// Model settings
// =============================================================================

type modelSettingsEntity struct {
	UserID          uuid.UUID      `db:"user_id"`
	PrimaryProvider string         `db:"primary_provider"`
	PrimaryModel    string         `db:"primary_model"`
	PrimaryKeyEnc   sql.NullString `db:"primary_api_key_enc"`
	BackupProvider  sql.NullString `db:"backup_provider"`
	BackupModel     sql.NullString `db:"backup_model"`
	BackupKeyEnc    sql.NullString `db:"backup_api_key_enc"`
	Fallbacks       pq.StringArray `db:"fallback_models"`
	FallbackKeysEnc pq.StringArray `db:"fallback_api_keys_enc"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// encodeChoice stores a fallback as "provider/model". Model names may contain slashes
// (meta-llama/llama-3.1-70b), so only the first one separates the provider.
func encodeChoice(c domain.ModelChoice) string {
	return c.Provider + "/" + c.Model
}

func decodeChoice(s string) (domain.ModelChoice, error) {
	provider, model, ok := strings.Cut(s, "/")
	if !ok || provider == "" {
		return domain.ModelChoice{}, fmt.Errorf("malformed fallback model %q", s)
	}
	return domain.ModelChoice{Provider: provider, Model: model}, nil
}

func (a *LLMAdapter) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.ModelSettings, error) {
	var e modelSettingsEntity
	query := `
		SELECT user_id, primary_provider, primary_model, primary_api_key_enc,
		       backup_provider, backup_model, backup_api_key_enc,
		       fallback_models, fallback_api_keys_enc, updated_at
		FROM llm_model_settings WHERE user_id = $1`
	if err := a.db.GetContext(ctx, &e, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	s := &domain.ModelSettings{
		UserID:    e.UserID,
		Primary:   domain.ModelChoice{Provider: e.PrimaryProvider, Model: e.PrimaryModel},
		UpdatedAt: e.UpdatedAt,
	}
	var err error
	if s.Primary.APIKey, err = a.reveal(e.PrimaryKeyEnc.String); err != nil {
		return nil, err
	}
	if e.BackupProvider.Valid && e.BackupProvider.String != "" {
		backup := &domain.ModelChoice{Provider: e.BackupProvider.String, Model: e.BackupModel.String}
		if backup.APIKey, err = a.reveal(e.BackupKeyEnc.String); err != nil {
			return nil, err
		}
		s.Backup = backup
	}
	for i, raw := range e.Fallbacks {
		c, err := decodeChoice(raw)
		if err != nil {
			return nil, err
		}
		if i < len(e.FallbackKeysEnc) {
			if c.APIKey, err = a.reveal(e.FallbackKeysEnc[i]); err != nil {
				return nil, err
			}
		}
		s.Fallbacks = append(s.Fallbacks, c)
	}
	return s, nil
}

func (a *LLMAdapter) Upsert(ctx context.Context, s *domain.ModelSettings) error {
	primaryKey, err := a.seal(s.Primary.APIKey)
	if err != nil {
		return err
	}
	var backupProvider, backupModel, backupKey sql.NullString
	if s.Backup != nil && !s.Backup.IsZero() {
		backupProvider = sql.NullString{String: s.Backup.Provider, Valid: true}
		backupModel = sql.NullString{String: s.Backup.Model, Valid: true}
		key, err := a.seal(s.Backup.APIKey)
		if err != nil {
			return err
		}
		backupKey = sql.NullString{String: key, Valid: key != ""}
	}
	fallbacks := make([]string, len(s.Fallbacks))
	fallbackKeys := make([]string, len(s.Fallbacks))
	for i, c := range s.Fallbacks {
		fallbacks[i] = encodeChoice(c)
		if fallbackKeys[i], err = a.seal(c.APIKey); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO llm_model_settings (user_id, primary_provider, primary_model, primary_api_key_enc,
			backup_provider, backup_model, backup_api_key_enc, fallback_models, fallback_api_keys_enc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			primary_provider = EXCLUDED.primary_provider,
			primary_model = EXCLUDED.primary_model,
			primary_api_key_enc = EXCLUDED.primary_api_key_enc,
			backup_provider = EXCLUDED.backup_provider,
			backup_model = EXCLUDED.backup_model,
			backup_api_key_enc = EXCLUDED.backup_api_key_enc,
			fallback_models = EXCLUDED.fallback_models,
			fallback_api_keys_enc = EXCLUDED.fallback_api_keys_enc,
			updated_at = NOW()`
	_, err = a.db.ExecContext(ctx, query,
		s.UserID, s.Primary.Provider, s.Primary.Model, sql.NullString{String: primaryKey, Valid: primaryKey != ""},
		backupProvider, backupModel, backupKey,
		pq.Array(fallbacks), pq.Array(fallbackKeys),
	)
	return err
}

func (a *LLMAdapter) reveal(s string) (string, error) {
	if a.enc == nil || !crypto.IsEncrypted(s) {
		return s, nil
	}
	return a.enc.Decrypt(s)
}

func (a *LLMAdapter) seal(s string) (string, error) {
	if a.enc == nil {
		return s, nil
	}
	return a.enc.Encrypt(s)
}
