package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"jenn_worker/core/domain"
)

// ErrUnknownTool is returned when the model names a tool the account does not have.
var ErrUnknownTool = errors.New("unknown tool")

// Registry holds the tools enabled for one email account. It is built per run by the
// tool resolver from the account's active connectors.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) RegisterAll(tools ...Tool) {
	for _, tool := range tools {
		r.Register(tool)
	}
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// sorted returns the tools ordered by name so prompts and schemas are stable between runs.
func (r *Registry) sorted() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

func (r *Registry) ListNames() []string {
	tools := r.sorted()
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name()
	}
	return names
}

// GetDefinitions returns the schemas offered to the model.
func (r *Registry) GetDefinitions() []ToolDefinition {
	tools := r.sorted()
	defs := make([]ToolDefinition, len(tools))
	for i, tool := range tools {
		defs[i] = ConvertToDefinition(tool)
	}
	return defs
}

// Execute validates args against the tool's parameters and runs it. Validation problems come
// back as a failed ToolResult so the model can correct its call.
func (r *Registry) Execute(ctx context.Context, account domain.AccountRef, name string, args map[string]any) (*ToolResult, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	if problems := validateArgs(tool.Parameters(), args); len(problems) > 0 {
		return &ToolResult{Success: false, Error: strings.Join(problems, "; ")}, nil
	}
	return tool.Execute(ctx, account, args)
}

func validateArgs(params []ParameterSpec, args map[string]any) []string {
	var problems []string
	for _, p := range params {
		v, ok := args[p.Name]
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			ok = false
		}
		if !ok || v == nil {
			if p.Required {
				problems = append(problems, "missing required parameter: "+p.Name)
			}
			continue
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, fmt.Sprint(v)) {
			problems = append(problems, fmt.Sprintf("%s must be one of %s", p.Name, strings.Join(p.Enum, ", ")))
		}
		if p.Type == "boolean" {
			if _, isBool := v.(bool); !isBool {
				problems = append(problems, p.Name+" must be true or false")
			}
		}
	}
	return problems
}
