// Package llm drives generation across an ordered list of provider/model targets.
package llm

import (
	"context"

	"jenn_worker/core/domain"
)

// Message roles accepted by the OpenAI-compatible chat API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function call requested by the model. Arguments is raw JSON.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises one callable tool with a JSON-schema parameter object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CallRequest is a single provider call.
type CallRequest struct {
	Messages    []Message
	Tools       []ToolSpec
	JSONMode    bool
	Temperature *float32
	MaxTokens   int
}

// CallResponse is the result of one provider call.
type CallResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        domain.TokenUsage
	FinishReason string
}

// StreamChunk is one streamed delta. Usage is set only when the provider reports it.
type StreamChunk struct {
	Delta string
	Usage *domain.TokenUsage
}

// ChunkStream yields chunks until io.EOF.
type ChunkStream interface {
	Recv() (StreamChunk, error)
	Close() error
}

// LanguageModel is one invocable backend.
type LanguageModel interface {
	Provider() string
	ModelName() string
	Generate(ctx context.Context, req *CallRequest) (*CallResponse, error)
	Stream(ctx context.Context, req *CallRequest) (ChunkStream, error)
}

// Target is one entry of an execution plan.
type Target struct {
	Model    LanguageModel
	Name     string
	Provider string
}

// NewTarget labels a model with its own provider/model name.
func NewTarget(m LanguageModel) Target {
	return Target{Model: m, Name: m.ModelName(), Provider: m.Provider()}
}

// ToolSet executes the tools offered to the model during a text generation.
type ToolSet interface {
	Specs() []ToolSpec
	Invoke(ctx context.Context, call ToolCall) (string, error)
}

// ToolInvocation records one executed tool call and the model that asked for it.
type ToolInvocation struct {
	Call   ToolCall
	Result string
	Err    error
	// Issuer is "provider/model" of the target that issued the call.
	Issuer string
}
