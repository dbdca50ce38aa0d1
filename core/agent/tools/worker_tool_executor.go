package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"jenn_worker/core/agent/llm"
	"jenn_worker/core/domain"
	"jenn_worker/pkg/logger"
	"jenn_worker/pkg/metrics"
)

// Executor binds a Registry to one account so the orchestrator can drive it as an llm.ToolSet.
type Executor struct {
	registry *Registry
	account  domain.AccountRef
	log      *logger.Logger
}

// NewExecutor creates a new tool executor
func NewExecutor(registry *Registry, account domain.AccountRef) *Executor {
	return &Executor{
		registry: registry,
		account:  account,
		log:      logger.WithField("email_account_id", account.EmailAccountID),
	}
}

var _ llm.ToolSet = (*Executor)(nil)

// Specs returns the tool schemas offered to the model.
func (e *Executor) Specs() []llm.ToolSpec {
	defs := e.registry.GetDefinitions()
	specs := make([]llm.ToolSpec, len(defs))
	for i, d := range defs {
		specs[i] = d.ToSpec()
	}
	return specs
}

// Invoke executes one model tool call. A failed ToolResult is returned as an error so the model
// sees it and the audit log records the call as unsuccessful.
func (e *Executor) Invoke(ctx context.Context, call llm.ToolCall) (string, error) {
	args, err := llm.ParseToolArguments(call.Arguments)
	if err != nil {
		e.observe(call.Name, false)
		return "", err
	}

	result, err := e.Execute(ctx, call.Name, args)
	if err != nil {
		e.observe(call.Name, false)
		e.log.WithError(err).WithField("tool", call.Name).Warn("[Executor.Invoke] tool failed")
		return "", err
	}
	if !result.Success {
		e.observe(call.Name, false)
		return "", errors.New(result.Error)
	}

	e.observe(call.Name, true)
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(payload), nil
}

// Execute runs a single tool by name
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	return e.registry.Execute(ctx, e.account, name, args)
}

func (e *Executor) observe(tool string, ok bool) {
	metrics.AgentToolCalls.WithLabelValues(tool, strconv.FormatBool(ok)).Inc()
}
