package http

import (
	"errors"
	"time"

	"jenn_worker/core/agent/llm"
	"jenn_worker/core/domain"
	"jenn_worker/core/service/bridge"
	mail "jenn_worker/core/service/email"
	"jenn_worker/pkg/apperr"
	"jenn_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// GetUserID safely extracts user_id from fiber context
// Returns error if not authenticated
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, ErrUnauthorized
	}
	return userID, nil
}

// =============================================================================
// Standardized Response Helpers
// =============================================================================

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// APIError represents a standard API error
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse sends a standardized JSON error response
func ErrorResponse(c *fiber.Ctx, status int, code, message string) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.Status(status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AppErrorResponse maps err onto an apperr.AppError and writes it.
// Internal errors are logged and replaced by a generic message.
func AppErrorResponse(c *fiber.Ctx, err error) error {
	appErr := toAppError(err)
	requestID, _ := c.Locals("request_id").(string)

	if appErr.Status >= fiber.StatusInternalServerError {
		logger.WithError(err).
			WithField("request_id", requestID).
			WithField("error_code", appErr.Code).
			Error("[HTTP] %s %s failed", c.Method(), c.Path())
	}

	return c.Status(appErr.Status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SuccessResponse sends a standardized JSON success response
func SuccessResponse(c *fiber.Ctx, data any) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// toAppError translates service sentinels into API errors.
func toAppError(err error) *apperr.AppError {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var cfgErr *bridge.ConfigurationError
	var provErr *llm.ProviderError
	switch {
	case errors.As(err, &cfgErr):
		return apperr.ConnectorConfig(string(cfgErr.Connector), err)
	case errors.Is(err, bridge.ErrOrderInProgress):
		return apperr.Conflict("order sync already in progress").WithError(err)
	case errors.Is(err, mail.ErrSyncInProgress):
		return apperr.Conflict("a sync is already running for this mailbox").WithError(err)
	case errors.Is(err, llm.ErrGenerationTimeout):
		return apperr.LLMTimeout(err)
	case errors.Is(err, llm.ErrAllModelsExhausted):
		return apperr.LLMExhausted(err)
	case errors.Is(err, llm.ErrEmptyPlan):
		return apperr.LLMFatal(string(domain.ErrorCategoryInvalidModel), "no usable model is configured", err)
	case errors.As(err, &provErr), errors.Is(err, llm.ErrProviderRetriesExhausted):
		category := llm.Categorize(err)
		return apperr.LLMFatal(string(category), category.UserMessage(), err)
	}
	return apperr.InternalWithError(err)
}
