package tools

import (
	"context"

	"jenn_worker/core/agent/llm"
	"jenn_worker/core/domain"
)

// Tool represents a business-system operation the agent can call.
type Tool interface {
	Name() string
	Description() string
	Category() ToolCategory
	Access() ToolAccess
	Parameters() []ParameterSpec
	Execute(ctx context.Context, account domain.AccountRef, args map[string]any) (*ToolResult, error)
}

// ToolCategory groups tools by the connector they talk to.
type ToolCategory string

const (
	CategoryOdoo       ToolCategory = "odoo"
	CategoryPrestaShop ToolCategory = "prestashop"
	CategoryQuickBooks ToolCategory = "quickbooks"
	CategoryBridge     ToolCategory = "bridge"
)

// ToolAccess tells the agent whether a call changes external state.
type ToolAccess string

const (
	AccessRead  ToolAccess = "read"
	AccessWrite ToolAccess = "write"
)

// ParameterSpec defines a tool parameter
type ParameterSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number, integer, boolean
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// ToolResult represents the result of tool execution
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolDefinition for LLM function calling
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    ToolCategory   `json:"category"`
	Access      ToolAccess     `json:"access"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters for OpenAI function calling format
type ToolParameters struct {
	Type       string                       `json:"type"`
	Properties map[string]ParameterProperty `json:"properties"`
	Required   []string                     `json:"required"`
}

// ParameterProperty for OpenAI format
type ParameterProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// ConvertToDefinition converts Tool to ToolDefinition for LLM
func ConvertToDefinition(t Tool) ToolDefinition {
	params := t.Parameters()
	properties := make(map[string]ParameterProperty)
	required := []string{}

	for _, p := range params {
		properties[p.Name] = ParameterProperty{
			Type:        p.Type,
			Description: p.Description,
			Enum:        p.Enum,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    t.Category(),
		Access:      t.Access(),
		Parameters: ToolParameters{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

// ToSpec renders the definition as the JSON schema handed to the model. Write tools are
// flagged in the description so the model can apply its read-before-write policy.
func (d ToolDefinition) ToSpec() llm.ToolSpec {
	props := make(map[string]any, len(d.Parameters.Properties))
	for name, p := range d.Parameters.Properties {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}

	desc := d.Description
	if d.Access == AccessWrite {
		desc = "[WRITE] " + desc
	}
	return llm.ToolSpec{
		Name:        d.Name,
		Description: desc,
		Parameters: map[string]any{
			"type":       d.Parameters.Type,
			"properties": props,
			"required":   d.Parameters.Required,
		},
	}
}

// =============================================================================
// Argument helpers (models send numbers as float64)
// =============================================================================

func getStringArg(args map[string]any, key, defaultVal string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return defaultVal
}

func getIntArg(args map[string]any, key string, defaultVal int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	if v, ok := args[key].(int64); ok {
		return int(v)
	}
	return defaultVal
}

func getInt64Arg(args map[string]any, key string) int64 {
	return int64(getIntArg(args, key, 0))
}

func getBoolArg(args map[string]any, key string, defaultVal bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return defaultVal
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return 10
	}
	if limit > max {
		return max
	}
	return limit
}

func failed(err error) *ToolResult {
	return &ToolResult{Success: false, Error: err.Error()}
}
