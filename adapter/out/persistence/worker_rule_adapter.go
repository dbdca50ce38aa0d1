package persistence

import (
	"context"
	"time"

	"jenn_worker/core/domain"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// =============================================================================
// RuleAdapter - mail_rules (conditions/actions are JSONB)
// =============================================================================

type RuleAdapter struct {
	db *sqlx.DB
}

func NewRuleAdapter(db *sqlx.DB) *RuleAdapter {
	return &RuleAdapter{db: db}
}

type ruleEntity struct {
	ID             int64          `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	EmailAccountID int64          `db:"email_account_id"`
	Name           string         `db:"name"`
	IsActive       bool           `db:"is_active"`
	Priority       int            `db:"priority"`
	Conditions     types.JSONText `db:"conditions"`
	Instructions   string         `db:"instructions"`
	Actions        types.JSONText `db:"actions"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (e *ruleEntity) toDomain() (*domain.MailRule, error) {
	r := &domain.MailRule{
		ID:             e.ID,
		UserID:         e.UserID,
		EmailAccountID: e.EmailAccountID,
		Name:           e.Name,
		IsActive:       e.IsActive,
		Priority:       e.Priority,
		Instructions:   e.Instructions,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
	if len(e.Conditions) > 0 {
		if err := json.Unmarshal(e.Conditions, &r.Conditions); err != nil {
			return nil, err
		}
	}
	if len(e.Actions) > 0 {
		if err := json.Unmarshal(e.Actions, &r.Actions); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (a *RuleAdapter) ListActiveByAccount(ctx context.Context, emailAccountID int64) ([]*domain.MailRule, error) {
	var entities []ruleEntity
	query := `
		SELECT id, user_id, email_account_id, name, is_active, priority,
		       COALESCE(conditions, '[]'::jsonb) AS conditions,
		       COALESCE(instructions, '') AS instructions,
		       COALESCE(actions, '[]'::jsonb) AS actions,
		       created_at, updated_at
		FROM mail_rules
		WHERE email_account_id = $1 AND is_active = true
		ORDER BY priority DESC, id`
	if err := a.db.SelectContext(ctx, &entities, query, emailAccountID); err != nil {
		return nil, err
	}

	rules := make([]*domain.MailRule, 0, len(entities))
	for i := range entities {
		r, err := entities[i].toDomain()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
