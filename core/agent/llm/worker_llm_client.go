package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"jenn_worker/core/domain"
	"jenn_worker/pkg/resilience"
)

// ClientConfig configures one OpenAI-compatible provider/model pair.
type ClientConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client

	// Internal retries cover plain 500s only; 429/5xx-unavailable advance the plan instead.
	MaxRetries int
	RetryDelay time.Duration
}

// Client implements LanguageModel on top of go-openai.
type Client struct {
	provider    string
	model       string
	api         *openai.Client
	maxTokens   int
	temperature float32
	retry       resilience.RetryConfig
}

const DefaultModel = "gpt-4o-mini"

func NewClient(cfg ClientConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Client{
		provider:    provider,
		model:       model,
		api:         openai.NewClientWithConfig(oc),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		retry: resilience.RetryConfig{
			MaxAttempts: cfg.MaxRetries + 1,
			Delay:       delay,
			Multiplier:  2,
		},
	}
}

func (c *Client) Provider() string  { return c.provider }
func (c *Client) ModelName() string { return c.model }

// Generate performs one chat completion.
func (c *Client) Generate(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	chatReq := c.buildRequest(req)

	var resp openai.ChatCompletionResponse
	err := resilience.Retry(ctx, c.retry, isInternalServerError, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return &CallResponse{Usage: usageFrom(resp.Usage)}, nil
	}

	choice := resp.Choices[0]
	out := &CallResponse{
		Content:      choice.Message.Content,
		Usage:        usageFrom(resp.Usage),
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Stream opens a streaming chat completion. Only the open is subject to error wrapping.
func (c *Client) Stream(ctx context.Context, req *CallRequest) (ChunkStream, error) {
	chatReq := c.buildRequest(req)
	chatReq.Stream = true

	stream, err := c.api.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, c.wrapError(err)
	}
	return &openAIStream{stream: stream, client: c}, nil
}

func (c *Client) buildRequest(req *CallRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = make([]openai.Tool, len(req.Tools))
		for i, t := range req.Tools {
			chatReq.Tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
	}
	return chatReq
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func usageFrom(u openai.Usage) domain.TokenUsage {
	return domain.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func isInternalServerError(err error) bool {
	pf := providerFields(err)
	return pf.status == http.StatusInternalServerError
}

// wrapError normalises SDK errors into *ProviderError, keeping the SDK error as cause.
func (c *Client) wrapError(err error) error {
	exhausted := errors.Is(err, resilience.ErrRetriesExhausted)

	var wrapped error = err
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		wrapped = &ProviderError{
			Provider:   c.provider,
			StatusCode: apiErr.HTTPStatusCode,
			Code:       apiCode(apiErr),
			Type:       apiErr.Type,
			Message:    apiErr.Message,
			Err:        apiErr,
		}
	case errors.As(err, &reqErr):
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		wrapped = &ProviderError{
			Provider:   c.provider,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
			Err:        reqErr,
		}
	}
	if exhausted {
		return errors.Join(ErrProviderRetriesExhausted, wrapped)
	}
	return wrapped
}

// =============================================================================
// Stream adapter
// =============================================================================

type openAIStream struct {
	stream *openai.ChatCompletionStream
	client *Client
}

func (s *openAIStream) Recv() (StreamChunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return StreamChunk{}, io.EOF
		}
		return StreamChunk{}, s.client.wrapError(err)
	}
	var chunk StreamChunk
	if len(resp.Choices) > 0 {
		chunk.Delta = resp.Choices[0].Delta.Content
	}
	return chunk, nil
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
