package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jenn_worker/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		Provider:   "openrouter",
		BaseURL:    srv.URL + "/v1",
		APIKey:     "sk-test",
		Model:      "meta-llama/llama-3.1-70b",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
}

func TestClient_GenerateParsesContentToolsAndUsage(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "odoo_partner_search", "arguments": "{\"email\":\"a@b.c\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	})

	resp, err := c.Generate(context.Background(), &CallRequest{
		Messages: []Message{{Role: RoleUser, Content: "find partner"}},
		Tools:    []ToolSpec{{Name: "odoo_partner_search", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "meta-llama/llama-3.1-70b", got["model"])
	assert.Len(t, got["tools"], 1)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "odoo_partner_search", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"email":"a@b.c"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, domain.TokenUsage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19}, resp.Usage)
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestClient_NormalisesProviderErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	})

	_, err := c.Generate(context.Background(), &CallRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "openrouter", pe.Provider)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Equal(t, "invalid_api_key", pe.Code)
	assert.Equal(t, VerdictFatal, Classify(err))
	assert.Equal(t, domain.ErrorCategoryInvalidAPIKey, Categorize(err))
}

func TestClient_RateLimitIsNotRetriedInternally(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	_, err := c.Generate(context.Background(), &CallRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, VerdictAdvancePlan, Classify(err))
}

func TestClient_InternalErrorsRetryThenGiveUp(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"The server had an error","type":"server_error"}}`))
	})

	_, err := c.Generate(context.Background(), &CallRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.True(t, errors.Is(err, ErrProviderRetriesExhausted))
	assert.Equal(t, VerdictFatal, Classify(err))
	assert.Equal(t, domain.ErrorCategoryRetriesExhausted, Categorize(err))
}

func TestCatalog_PlanSkipsUnbuildableFallbacks(t *testing.T) {
	cat := NewCatalog([]ProviderSpec{
		{Name: "openai", BaseURL: "https://api.openai.com/v1", APIKey: "sk-openai", DefaultModel: "gpt-4o-mini"},
		{Name: "groq", BaseURL: "https://api.groq.com/openai/v1"},
	}, nil, 0, zerolog.Nop())

	plan, err := cat.Plan(&domain.ModelSettings{
		Primary:   domain.ModelChoice{Provider: "openai", Model: "gpt-4o"},
		Backup:    &domain.ModelChoice{Provider: "openai"},
		Fallbacks: []domain.ModelChoice{{Provider: "groq", Model: "llama"}, {Provider: "nope", Model: "x"}, {Provider: "groq", Model: "mixtral", APIKey: "gsk-user"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini", "mixtral"}, names(plan))
	assert.Equal(t, "groq", plan[2].Provider)

	_, err = cat.Plan(&domain.ModelSettings{Primary: domain.ModelChoice{Provider: "groq", Model: "llama"}})
	assert.Error(t, err)
}

type settingsStub struct {
	settings *domain.ModelSettings
}

func (s settingsStub) GetByUserID(context.Context, uuid.UUID) (*domain.ModelSettings, error) {
	return s.settings, nil
}

func (s settingsStub) Upsert(context.Context, *domain.ModelSettings) error { return nil }

func TestPlanner_FallsBackToDefaults(t *testing.T) {
	cat := NewCatalog([]ProviderSpec{
		{Name: "openai", BaseURL: "https://api.openai.com/v1", APIKey: "sk-openai", DefaultModel: "gpt-4o-mini"},
	}, nil, 0, zerolog.Nop())
	defaults := domain.ModelSettings{Primary: domain.ModelChoice{Provider: "openai"}}

	plan, err := NewPlanner(settingsStub{}, cat, defaults).PlanFor(context.Background(), domain.AccountRef{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o-mini"}, names(plan))

	custom := &domain.ModelSettings{
		Primary:   domain.ModelChoice{Provider: "openai", Model: "gpt-4o"},
		Fallbacks: []domain.ModelChoice{{Provider: "openai", Model: "gpt-4o-mini"}},
	}
	plan, err = NewPlanner(settingsStub{settings: custom}, cat, defaults).PlanFor(context.Background(), domain.AccountRef{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, names(plan))
}
