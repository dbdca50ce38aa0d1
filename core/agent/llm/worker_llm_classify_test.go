package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"jenn_worker/core/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Verdict
	}{
		{"rate limit status", &ProviderError{StatusCode: 429, Message: "slow down"}, VerdictAdvancePlan},
		{"quota exhausted is not a rate limit", &ProviderError{StatusCode: 429, Code: "insufficient_quota"}, VerdictFatal},
		{"bad gateway", &ProviderError{StatusCode: 502}, VerdictAdvancePlan},
		{"service unavailable", &ProviderError{StatusCode: 503}, VerdictAdvancePlan},
		{"gateway timeout", &ProviderError{StatusCode: 504}, VerdictAdvancePlan},
		{"anthropic overloaded status", &ProviderError{StatusCode: 529}, VerdictAdvancePlan},
		{"overloaded message", errors.New("Overloaded: please retry"), VerdictAdvancePlan},
		{"throttling message", errors.New("request was throttled"), VerdictAdvancePlan},
		{"sdk api error", &openai.APIError{HTTPStatusCode: 429, Message: "Rate limit"}, VerdictAdvancePlan},
		{"sdk request error", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("bad")}, VerdictAdvancePlan},
		{"single request timeout", fmt.Errorf("post: %w", timeoutErr{}), VerdictAdvancePlan},
		{"no object", ErrNoObjectGenerated, VerdictRetrySameModel},
		{"schema validation", &SchemaValidationError{Err: errors.New("missing kind")}, VerdictRetrySameModel},
		{"wrapped schema validation", fmt.Errorf("decode: %w", &SchemaValidationError{}), VerdictRetrySameModel},
		{"invalid key", &ProviderError{StatusCode: 401, Code: "invalid_api_key"}, VerdictFatal},
		{"deactivated", &ProviderError{StatusCode: 403, Message: "key deactivated"}, VerdictFatal},
		{"model not found", &ProviderError{StatusCode: 404, Code: "model_not_found"}, VerdictFatal},
		{"payment required", &ProviderError{StatusCode: 402}, VerdictFatal},
		{"sdk retries exhausted", errors.Join(ErrProviderRetriesExhausted, &ProviderError{StatusCode: 500}), VerdictFatal},
		{"caller cancelled", context.Canceled, VerdictFatal},
		{"unknown", errors.New("boom"), VerdictFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err), tt.want.String())
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorCategory
	}{
		{"invalid key", &ProviderError{StatusCode: 401, Message: "Incorrect API key provided"}, domain.ErrorCategoryInvalidAPIKey},
		{"deactivated key", &ProviderError{StatusCode: 401, Code: "account_deactivated", Message: "This key is deactivated"}, domain.ErrorCategoryDeactivatedAPIKey},
		{"forbidden", &ProviderError{StatusCode: 403}, domain.ErrorCategoryDeactivatedAPIKey},
		{"invalid model", &ProviderError{StatusCode: 404, Message: "The model `gpt-9` does not exist"}, domain.ErrorCategoryInvalidModel},
		{"quota", &openai.APIError{HTTPStatusCode: 429, Code: "insufficient_quota", Message: "You exceeded your current quota"}, domain.ErrorCategoryInsufficientBalance},
		{"payment required", &ProviderError{StatusCode: 402}, domain.ErrorCategoryInsufficientBalance},
		{"retries exhausted", errors.Join(ErrProviderRetriesExhausted, errors.New("500")), domain.ErrorCategoryRetriesExhausted},
		{"exhausted plan", &ExhaustedError{Last: errors.New("503")}, domain.ErrorCategoryAllModelsFailed},
		{"timeout", fmt.Errorf("%w: %w", ErrGenerationTimeout, context.DeadlineExceeded), domain.ErrorCategoryTimeout},
		{"unknown", errors.New("boom"), domain.ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got.UserMessage())
		})
	}
}
