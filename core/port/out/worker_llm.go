package out

import (
	"context"

	"github.com/google/uuid"

	"jenn_worker/core/domain"
)

// UsageRecorder persists one usage row per successful generation.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec domain.UsageRecord) error
}

// ErrorNotifier surfaces categorized LLM failures to the account owner.
type ErrorNotifier interface {
	NotifyUserError(ctx context.Context, notice domain.UserErrorNotice) error
}

// ModelSettingsRepository stores the per-user model configuration.
type ModelSettingsRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.ModelSettings, error)
	Upsert(ctx context.Context, settings *domain.ModelSettings) error
}

// ErrorNoticeRepository lists and resolves notices written by ErrorNotifier.
type ErrorNoticeRepository interface {
	ErrorNotifier
	ListOpen(ctx context.Context, userID uuid.UUID) ([]*domain.UserErrorNotice, error)
	Resolve(ctx context.Context, userID uuid.UUID, category domain.ErrorCategory) error
}
