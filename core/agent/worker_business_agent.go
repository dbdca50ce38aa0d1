// Package agent runs the tool-calling business agent over email threads.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jenn_worker/core/agent/llm"
	"jenn_worker/core/agent/tools"
	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/mailtext"
	"jenn_worker/pkg/metrics"
)

// MaxSteps caps tool-call/response rounds of one run.
const MaxSteps = 10

const (
	labelAgent        = "business-agent"
	labelAgentVerdict = "business-agent-verdict"

	threadMessageChars = 4000
)

// =============================================================================
// Verdict
// =============================================================================

type VerdictKind string

const (
	VerdictActionable VerdictKind = "actionable"
	VerdictNoAction   VerdictKind = "no_action"
)

// AgentVerdict is the structured final answer of a run.
type AgentVerdict struct {
	Kind VerdictKind `json:"kind"`
	Text string      `json:"text,omitempty"`
}

func (v AgentVerdict) Validate() error {
	switch v.Kind {
	case VerdictActionable:
		if strings.TrimSpace(v.Text) == "" {
			return errors.New("actionable verdict needs text")
		}
		return nil
	case VerdictNoAction:
		return nil
	default:
		return fmt.Errorf("unknown verdict kind %q", v.Kind)
	}
}

// parseVerdict reads a verdict out of the model's final text.
func parseVerdict(text string) (AgentVerdict, bool) {
	var v AgentVerdict
	if strings.TrimSpace(text) == "" {
		return v, false
	}
	if err := json.Unmarshal([]byte(llm.RepairJSON(text)), &v); err != nil {
		return v, false
	}
	if v.Validate() != nil {
		return v, false
	}
	return v, true
}

// =============================================================================
// Business Agent
// =============================================================================

// RunInput is one agent invocation over an email thread.
type RunInput struct {
	Account   domain.AccountRef
	ThreadKey string
	Thread    []*domain.FetchedMessage
	Tools     *tools.Registry
}

// RunResult is nil-Response when nothing actionable came out of the thread.
type RunResult struct {
	Response  *string                 `json:"response"`
	Verdict   VerdictKind             `json:"verdict,omitempty"`
	ToolCalls []domain.ToolCallRecord `json:"tool_calls"`
	Steps     int                     `json:"steps"`
}

// BusinessAgent mediates between email content and the account's business systems.
type BusinessAgent struct {
	llm   *llm.Orchestrator
	plans llm.PlanSource
	runs  out.AgentRunLog
	log   zerolog.Logger
	now   func() time.Time
}

// NewBusinessAgent builds the agent. runs may be nil to skip auditing.
func NewBusinessAgent(orchestrator *llm.Orchestrator, plans llm.PlanSource, runs out.AgentRunLog, log zerolog.Logger) *BusinessAgent {
	return &BusinessAgent{
		llm:   orchestrator,
		plans: plans,
		runs:  runs,
		log:   log.With().Str("component", "business_agent").Logger(),
		now:   time.Now,
	}
}

// Run executes the bounded tool loop. With no tools enabled it returns immediately without
// touching a model.
func (a *BusinessAgent) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	if in.Tools == nil || in.Tools.Len() == 0 {
		metrics.AgentRuns.WithLabelValues("no_tools").Inc()
		return &RunResult{}, nil
	}
	if len(in.Thread) == 0 {
		return nil, errors.New("agent: empty thread")
	}

	plan, err := a.plans.PlanFor(ctx, in.Account)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve models: %w", err)
	}

	thread := renderThread(in.Thread)
	text, err := a.llm.GenerateText(ctx, llm.TextRequest{
		Invocation: llm.Invocation{Account: in.Account, Label: labelAgent, Plan: plan},
		System:     systemPrompt(in.Tools.GetDefinitions(), a.now()),
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: thread}},
		Tools:      tools.NewExecutor(in.Tools, in.Account),
		MaxSteps:   MaxSteps,
	})
	if err != nil {
		a.audit(ctx, in, nil, err)
		metrics.AgentRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &RunResult{ToolCalls: toRecords(text.ToolCalls), Steps: text.Steps}

	switch {
	case text.StepLimitReached && strings.TrimSpace(text.Text) == "":
		a.log.Warn().
			Int64("email_account_id", in.Account.EmailAccountID).
			Int("tool_calls", len(result.ToolCalls)).
			Msg("agent stopped at step limit without an answer")
		result.Verdict = VerdictNoAction
	default:
		verdict, ok := parseVerdict(text.Text)
		if !ok {
			verdict, err = a.resolveVerdict(ctx, in, plan, thread, text.Text, result.ToolCalls)
			if err != nil {
				a.audit(ctx, in, result, err)
				metrics.AgentRuns.WithLabelValues("error").Inc()
				return nil, err
			}
		}
		result.Verdict = verdict.Kind
		if verdict.Kind == VerdictActionable {
			resp := strings.TrimSpace(verdict.Text)
			result.Response = &resp
		}
	}

	metrics.AgentRuns.WithLabelValues(string(result.Verdict)).Inc()
	a.audit(ctx, in, result, nil)
	return result, nil
}

// resolveVerdict asks for a structured verdict when the final text was free-form.
func (a *BusinessAgent) resolveVerdict(ctx context.Context, in RunInput, plan []llm.Target, thread, answer string, calls []domain.ToolCallRecord) (AgentVerdict, error) {
	var b strings.Builder
	b.WriteString("EMAIL THREAD:\n")
	b.WriteString(thread)
	b.WriteString("\n\nTOOL CALLS:\n")
	if len(calls) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range calls {
		status := "ok"
		if !c.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "- %s [%s]: %s\n", c.ToolName, status, c.Result)
	}
	b.WriteString("\nASSISTANT ANSWER:\n")
	b.WriteString(answer)

	obj, err := llm.GenerateObject[AgentVerdict](ctx, a.llm, llm.ObjectRequest{
		Invocation: llm.Invocation{Account: in.Account, Label: labelAgentVerdict, Plan: plan},
		System: "Decide whether the assistant answer below contains anything actionable for the mailbox owner. " +
			"If it does, return it as text. If the thread needed nothing from the business systems, return no_action.",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Schema:   `{"kind": "actionable" | "no_action", "text": "string, required when actionable"}`,
	})
	if err != nil {
		return AgentVerdict{}, err
	}
	return obj.Object, nil
}

func (a *BusinessAgent) audit(ctx context.Context, in RunInput, result *RunResult, runErr error) {
	if a.runs == nil {
		return
	}
	names := in.Tools.ListNames()
	run := &domain.AgentRun{
		ID:             uuid.NewString(),
		EmailAccountID: in.Account.EmailAccountID,
		AccountEmail:   in.Account.Email,
		ThreadKey:      in.ThreadKey,
		Tools:          names,
		CreatedAt:      a.now(),
	}
	if result != nil {
		run.ToolCalls = result.ToolCalls
		if result.Response != nil {
			run.Actionable = true
			run.Response = *result.Response
		}
		run.Steps = result.Steps
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := a.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		a.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to save agent run")
	}
}

// =============================================================================
// Prompt
// =============================================================================

func toRecords(calls []llm.ToolInvocation) []domain.ToolCallRecord {
	records := make([]domain.ToolCallRecord, 0, len(calls))
	for _, c := range calls {
		args, err := llm.ParseToolArguments(c.Call.Arguments)
		if err != nil {
			args = map[string]any{"_raw": c.Call.Arguments}
		}
		result := c.Result
		if c.Err != nil {
			result = "error: " + c.Err.Error()
		}
		records = append(records, domain.ToolCallRecord{
			ToolName:  c.Call.Name,
			Arguments: args,
			Result:    domain.TruncateToolResult(result),
			Success:   c.Err == nil,
			Model:     c.Issuer,
		})
	}
	return records
}

func renderThread(thread []*domain.FetchedMessage) string {
	var b strings.Builder
	for i, m := range thread {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "From: %s\n", formatSender(m))
		if len(m.To) > 0 {
			fmt.Fprintf(&b, "To: %s\n", strings.Join(m.To, ", "))
		}
		if !m.Date.IsZero() {
			fmt.Fprintf(&b, "Date: %s\n", m.Date.Format(time.RFC1123Z))
		}
		fmt.Fprintf(&b, "Subject: %s\n\n", m.Subject)
		body := mailtext.StripQuoted(mailtext.Body(m.TextBody, m.HTMLBody))
		if body == "" {
			body = m.Snippet
		}
		b.WriteString(mailtext.Truncate(body, threadMessageChars))
	}
	return b.String()
}

func formatSender(m *domain.FetchedMessage) string {
	if m.FromName != "" {
		return fmt.Sprintf("%s <%s>", m.FromName, m.From)
	}
	return m.From
}

func systemPrompt(defs []tools.ToolDefinition, now time.Time) string {
	var reads, writes []string
	for _, d := range defs {
		if d.Access == tools.AccessWrite {
			writes = append(writes, d.Name)
		} else {
			reads = append(reads, d.Name)
		}
	}

	var b strings.Builder
	b.WriteString(systemPromptBusinessAgent)
	fmt.Fprintf(&b, "\n\nToday is %s.\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Read tools: %s\n", listOrNone(reads))
	fmt.Fprintf(&b, "Write tools: %s\n", listOrNone(writes))
	return b.String()
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

const systemPromptBusinessAgent = `You are Jenn, an assistant that connects a mailbox to the owner's business systems (ERP, shop, accounting).

You receive one email thread. Decide whether it needs anything from the connected systems and use the tools to find out.

Discretion policy:
- Read before you write. Look records up before creating anything.
- Only call a write tool when the email explicitly asks for it or the intent is unmistakable (a customer placing an order, asking for an invoice).
- When intent is ambiguous, do not write. Summarize what you found instead.
- Never invent ids. Use ids returned by tools.
- Stop calling tools as soon as you have what you need.

Final answer: reply with JSON only, one of
{"kind":"actionable","text":"<short summary for the mailbox owner: what you found or did, with ids>"}
{"kind":"no_action"}
Use no_action when the thread needs nothing from the business systems.`
