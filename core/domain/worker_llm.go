package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountRef identifies who a generation is billed to.
type AccountRef struct {
	UserID         uuid.UUID `json:"user_id"`
	EmailAccountID int64     `json:"email_account_id"`
	Email          string    `json:"email"`
}

// TokenUsage mirrors the provider usage block.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage across tool-loop steps.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// UsageRecord is written once per successful generation, tagged with the model that served it.
type UsageRecord struct {
	ID        uuid.UUID  `json:"id"`
	Account   AccountRef `json:"account"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	Label     string     `json:"label"`
	Usage     TokenUsage `json:"usage"`
	Estimated bool       `json:"estimated"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
}

// =============================================================================
// User-visible LLM error notices
// =============================================================================

type ErrorCategory string

const (
	ErrorCategoryInvalidAPIKey       ErrorCategory = "invalid_api_key"
	ErrorCategoryDeactivatedAPIKey   ErrorCategory = "deactivated_api_key"
	ErrorCategoryInvalidModel        ErrorCategory = "invalid_model"
	ErrorCategoryInsufficientBalance ErrorCategory = "insufficient_balance"
	ErrorCategoryRetriesExhausted    ErrorCategory = "provider_retries_exhausted"
	ErrorCategoryAllModelsFailed     ErrorCategory = "all_models_unavailable"
	ErrorCategoryTimeout             ErrorCategory = "timeout"
	ErrorCategoryUnknown             ErrorCategory = "unknown"
)

// UserMessage is the text shown to the account owner.
func (c ErrorCategory) UserMessage() string {
	switch c {
	case ErrorCategoryInvalidAPIKey:
		return "Your AI provider API key is invalid. Update it in settings to resume AI features."
	case ErrorCategoryDeactivatedAPIKey:
		return "Your AI provider API key has been deactivated. Generate a new key and update it in settings."
	case ErrorCategoryInvalidModel:
		return "The selected AI model does not exist or is not available for your key. Choose another model in settings."
	case ErrorCategoryInsufficientBalance:
		return "Your AI provider account has insufficient balance. Top up your credits to resume AI features."
	case ErrorCategoryRetriesExhausted:
		return "The AI provider kept failing after several retries. Try again later."
	case ErrorCategoryAllModelsFailed:
		return "All configured AI models are currently unavailable. Try again later or add a fallback model."
	case ErrorCategoryTimeout:
		return "The AI request took too long and was cancelled."
	default:
		return "The AI request failed unexpectedly."
	}
}

// UserErrorNotice is an account-visible error persisted instead of raw exception text.
type UserErrorNotice struct {
	ID        int64         `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	Email     string        `json:"email"`
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Label     string        `json:"label"`
	Model     string        `json:"model"`
	CreatedAt time.Time     `json:"created_at"`
}

// =============================================================================
// Model settings (primary / legacy backup / fallbacks)
// =============================================================================

// ModelChoice names one provider/model pair from the catalog.
type ModelChoice struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"-"`
}

// IsZero reports whether the choice is unset.
func (c ModelChoice) IsZero() bool {
	return c.Provider == "" && c.Model == ""
}

// ModelSettings is the per-user model configuration.
type ModelSettings struct {
	UserID    uuid.UUID     `json:"user_id"`
	Primary   ModelChoice   `json:"primary"`
	Backup    *ModelChoice  `json:"backup,omitempty"`
	Fallbacks []ModelChoice `json:"fallbacks,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}
