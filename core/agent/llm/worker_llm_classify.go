package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"jenn_worker/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoObjectGenerated means the model answered without any parsable object.
	ErrNoObjectGenerated = errors.New("no object generated")

	// ErrProviderRetriesExhausted marks a client that gave up after its own retries.
	ErrProviderRetriesExhausted = errors.New("provider retries exhausted")

	// ErrAllModelsExhausted is matched by *ExhaustedError.
	ErrAllModelsExhausted = errors.New("all models in the execution plan failed")

	// ErrGenerationTimeout is returned when the aggregate deadline expires mid-plan.
	ErrGenerationTimeout = errors.New("generation timed out")

	ErrEmptyPlan = errors.New("execution plan is empty")
)

// ProviderError is a normalised HTTP error from a model provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Type       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: status %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SchemaValidationError means the model output decoded but did not fit the requested shape.
type SchemaValidationError struct {
	Raw string
	Err error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("object failed schema validation: %v", e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// ExhaustedError is returned after every target advanced without success.
type ExhaustedError struct {
	Attempts int
	Tried    []string
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts over %s: %v",
		ErrAllModelsExhausted, e.Attempts, strings.Join(e.Tried, ", "), e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllModelsExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }

// =============================================================================
// Classifier
// =============================================================================

// Verdict is what the orchestrator does with a failed attempt.
type Verdict int

const (
	VerdictFatal Verdict = iota
	VerdictAdvancePlan
	VerdictRetrySameModel
)

func (v Verdict) String() string {
	switch v {
	case VerdictAdvancePlan:
		return "advance"
	case VerdictRetrySameModel:
		return "retry"
	default:
		return "fatal"
	}
}

const statusOverloaded = 529

var transientMarkers = []string{
	"overloaded",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"service unavailable",
	"temporarily unavailable",
	"throttl",
	"capacity",
}

// Classify maps an attempt error to advance-plan, retry-same-model or fatal.
func Classify(err error) Verdict {
	if err == nil {
		return VerdictFatal
	}

	if errors.Is(err, ErrNoObjectGenerated) {
		return VerdictRetrySameModel
	}
	var sve *SchemaValidationError
	if errors.As(err, &sve) {
		return VerdictRetrySameModel
	}

	if errors.Is(err, ErrProviderRetriesExhausted) || errors.Is(err, context.Canceled) {
		return VerdictFatal
	}

	pf := providerFields(err)
	if pf.code == "insufficient_quota" {
		return VerdictFatal
	}
	switch pf.status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, statusOverloaded:
		return VerdictAdvancePlan
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusNotFound:
		return VerdictFatal
	}

	// Timeout of a single request while the caller's context is still alive.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return VerdictAdvancePlan
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return VerdictAdvancePlan
	}

	msg := strings.ToLower(pf.message + " " + err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return VerdictAdvancePlan
		}
	}
	return VerdictFatal
}

// Categorize maps a terminal error to the user-facing category.
func Categorize(err error) domain.ErrorCategory {
	switch {
	case err == nil:
		return domain.ErrorCategoryUnknown
	case errors.Is(err, ErrGenerationTimeout):
		return domain.ErrorCategoryTimeout
	case errors.Is(err, ErrAllModelsExhausted):
		return domain.ErrorCategoryAllModelsFailed
	case errors.Is(err, ErrProviderRetriesExhausted):
		return domain.ErrorCategoryRetriesExhausted
	}

	pf := providerFields(err)
	msg := strings.ToLower(pf.message + " " + err.Error())

	switch {
	case pf.code == "insufficient_quota" || pf.status == http.StatusPaymentRequired ||
		strings.Contains(msg, "insufficient balance") || strings.Contains(msg, "insufficient_quota") ||
		strings.Contains(msg, "insufficient credits"):
		return domain.ErrorCategoryInsufficientBalance
	case pf.code == "account_deactivated" || strings.Contains(msg, "deactivated") ||
		pf.status == http.StatusForbidden:
		return domain.ErrorCategoryDeactivatedAPIKey
	case pf.code == "invalid_api_key" || pf.status == http.StatusUnauthorized ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "incorrect api key"):
		return domain.ErrorCategoryInvalidAPIKey
	case pf.code == "model_not_found" || pf.status == http.StatusNotFound ||
		(strings.Contains(msg, "model") && (strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found"))):
		return domain.ErrorCategoryInvalidModel
	}
	return domain.ErrorCategoryUnknown
}

type providerInfo struct {
	status  int
	code    string
	message string
}

func providerFields(err error) providerInfo {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return providerInfo{status: pe.StatusCode, code: pe.Code, message: pe.Message}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return providerInfo{status: apiErr.HTTPStatusCode, code: apiCode(apiErr), message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		info := providerInfo{status: reqErr.HTTPStatusCode}
		if reqErr.Err != nil {
			info.message = reqErr.Err.Error()
		}
		return info
	}
	return providerInfo{}
}

func apiCode(e *openai.APIError) string {
	switch c := e.Code.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		return fmt.Sprint(c)
	}
}
