package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jenn_worker/core/agent/llm"
	"jenn_worker/core/agent/tools"
	"jenn_worker/core/domain"
)

// =============================================================================
// Test doubles
// =============================================================================

type scriptedModel struct {
	mu    sync.Mutex
	calls int
	reply func(call int, req *llm.CallRequest) *llm.CallResponse
}

func (m *scriptedModel) Provider() string  { return "openai" }
func (m *scriptedModel) ModelName() string { return "gpt-4o-mini" }

func (m *scriptedModel) Generate(_ context.Context, req *llm.CallRequest) (*llm.CallResponse, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	resp := m.reply(call, req)
	resp.Usage = domain.TokenUsage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25}
	return resp, nil
}

func (m *scriptedModel) Stream(context.Context, *llm.CallRequest) (llm.ChunkStream, error) {
	panic("not used")
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type staticPlans struct {
	model *scriptedModel
	calls int
}

func (p *staticPlans) PlanFor(context.Context, domain.AccountRef) ([]llm.Target, error) {
	p.calls++
	return []llm.Target{llm.NewTarget(p.model)}, nil
}

type runLogSpy struct {
	runs []*domain.AgentRun
}

func (r *runLogSpy) Save(_ context.Context, run *domain.AgentRun) error {
	r.runs = append(r.runs, run)
	return nil
}

type lookupTool struct {
	calls int
}

func (t *lookupTool) Name() string                 { return "odoo_partner_search" }
func (t *lookupTool) Description() string          { return "search partners" }
func (t *lookupTool) Category() tools.ToolCategory { return tools.CategoryOdoo }
func (t *lookupTool) Access() tools.ToolAccess     { return tools.AccessRead }
func (t *lookupTool) Parameters() []tools.ParameterSpec {
	return []tools.ParameterSpec{{Name: "query", Type: "string", Required: true}}
}

func (t *lookupTool) Execute(context.Context, domain.AccountRef, map[string]any) (*tools.ToolResult, error) {
	t.calls++
	return &tools.ToolResult{Success: true, Data: strings.Repeat("partner ", 100)}, nil
}

func toolCall(id string) *llm.CallResponse {
	return &llm.CallResponse{ToolCalls: []llm.ToolCall{{ID: id, Name: "odoo_partner_search", Arguments: `{"query":"acme"}`}}}
}

func newTestAgent(model *scriptedModel) (*BusinessAgent, *staticPlans, *runLogSpy) {
	cfg := llm.DefaultOrchestratorConfig()
	cfg.ObjectRetryDelay = 0
	orch := llm.NewOrchestrator(cfg, nil, nil, zerolog.Nop())
	plans := &staticPlans{model: model}
	runs := &runLogSpy{}
	a := NewBusinessAgent(orch, plans, runs, zerolog.Nop())
	a.now = func() time.Time { return time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC) }
	return a, plans, runs
}

func registryWith(ts ...tools.Tool) *tools.Registry {
	r := tools.NewRegistry()
	r.RegisterAll(ts...)
	return r
}

var (
	testAccount = domain.AccountRef{EmailAccountID: 3, Email: "sales@shop.test"}
	testThread  = []*domain.FetchedMessage{{
		UID:      11,
		From:     "buyer@acme.test",
		FromName: "Anna Buyer",
		Subject:  "Order status",
		TextBody: "Hi, where is my order XKBKNABJK?\n> quoted history",
	}}
)

// =============================================================================
// Tests
// =============================================================================

func TestRun_NoToolsNeverCallsModel(t *testing.T) {
	model := &scriptedModel{reply: func(int, *llm.CallRequest) *llm.CallResponse { return &llm.CallResponse{} }}
	a, plans, runs := newTestAgent(model)

	res, err := a.Run(context.Background(), RunInput{Account: testAccount, Thread: testThread, Tools: tools.NewRegistry()})
	require.NoError(t, err)
	assert.Nil(t, res.Response)
	assert.Empty(t, res.ToolCalls)
	assert.Equal(t, 0, model.Calls())
	assert.Equal(t, 0, plans.calls)
	assert.Empty(t, runs.runs)

	res, err = a.Run(context.Background(), RunInput{Account: testAccount, Thread: testThread})
	require.NoError(t, err)
	assert.Nil(t, res.Response)
	assert.Equal(t, 0, model.Calls())
}

func TestRun_PathologicalToolStopsAfterTenSteps(t *testing.T) {
	model := &scriptedModel{reply: func(call int, _ *llm.CallRequest) *llm.CallResponse {
		return toolCall("call")
	}}
	tool := &lookupTool{}
	a, _, runs := newTestAgent(model)

	res, err := a.Run(context.Background(), RunInput{Account: testAccount, Thread: testThread, Tools: registryWith(tool)})
	require.NoError(t, err)

	assert.Equal(t, MaxSteps, model.Calls())
	assert.Equal(t, MaxSteps, res.Steps)
	assert.Equal(t, MaxSteps, tool.calls)
	assert.Len(t, res.ToolCalls, MaxSteps)
	assert.Nil(t, res.Response)
	assert.Equal(t, VerdictNoAction, res.Verdict)
	require.Len(t, runs.runs, 1)
	assert.False(t, runs.runs[0].Actionable)
}

func TestRun_ActionableVerdict(t *testing.T) {
	var firstReq *llm.CallRequest
	model := &scriptedModel{reply: func(call int, req *llm.CallRequest) *llm.CallResponse {
		if call == 1 {
			firstReq = req
			return toolCall("c1")
		}
		return &llm.CallResponse{Content: "```json\n{\"kind\":\"actionable\",\"text\":\"Acme is partner 3; order XKBKNABJK is shipped.\"}\n```"}
	}}
	a, _, runs := newTestAgent(model)

	res, err := a.Run(context.Background(), RunInput{Account: testAccount, ThreadKey: "t-1", Thread: testThread, Tools: registryWith(&lookupTool{})})
	require.NoError(t, err)

	require.NotNil(t, res.Response)
	assert.Equal(t, "Acme is partner 3; order XKBKNABJK is shipped.", *res.Response)
	assert.Equal(t, 2, model.Calls())
	assert.Equal(t, 2, res.Steps)

	require.Len(t, res.ToolCalls, 1)
	rec := res.ToolCalls[0]
	assert.Equal(t, "odoo_partner_search", rec.ToolName)
	assert.Equal(t, map[string]any{"query": "acme"}, rec.Arguments)
	assert.True(t, rec.Success)
	assert.Equal(t, "openai/gpt-4o-mini", rec.Model)
	assert.Equal(t, domain.ToolResultPreviewLen+len("..."), len([]rune(rec.Result)))

	require.NotNil(t, firstReq)
	system := firstReq.Messages[0].Content
	assert.Contains(t, system, "Read before you write")
	assert.Contains(t, system, "Read tools: odoo_partner_search")
	user := firstReq.Messages[1].Content
	assert.Contains(t, user, "From: Anna Buyer <buyer@acme.test>")
	assert.NotContains(t, user, "quoted history")

	require.Len(t, runs.runs, 1)
	assert.Equal(t, "t-1", runs.runs[0].ThreadKey)
	assert.True(t, runs.runs[0].Actionable)
	assert.Equal(t, []string{"odoo_partner_search"}, runs.runs[0].Tools)
}

func TestRun_NoActionVerdict(t *testing.T) {
	model := &scriptedModel{reply: func(int, *llm.CallRequest) *llm.CallResponse {
		return &llm.CallResponse{Content: `{"kind":"no_action"}`}
	}}
	a, _, _ := newTestAgent(model)

	res, err := a.Run(context.Background(), RunInput{Account: testAccount, Thread: testThread, Tools: registryWith(&lookupTool{})})
	require.NoError(t, err)
	assert.Nil(t, res.Response)
	assert.Equal(t, VerdictNoAction, res.Verdict)
	assert.Equal(t, 1, model.Calls())
}

func TestRun_SentinelTextIsNotMatched(t *testing.T) {
	model := &scriptedModel{reply: func(call int, req *llm.CallRequest) *llm.CallResponse {
		if call == 1 {
			return &llm.CallResponse{Content: "The customer asked about NO_RELEVANT_INFO_FOUND in their ERP export."}
		}
		assert.True(t, req.JSONMode)
		return &llm.CallResponse{Content: `{"kind":"actionable","text":"Customer asks about an ERP export field."}`}
	}}
	a, _, _ := newTestAgent(model)

	res, err := a.Run(context.Background(), RunInput{Account: testAccount, Thread: testThread, Tools: registryWith(&lookupTool{})})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, "Customer asks about an ERP export field.", *res.Response)
	assert.Equal(t, 2, model.Calls())
}

func TestParseVerdict(t *testing.T) {
	v, ok := parseVerdict(`{"kind":"actionable","text":"x",}`)
	assert.True(t, ok)
	assert.Equal(t, AgentVerdict{Kind: VerdictActionable, Text: "x"}, v)

	_, ok = parseVerdict(`{"kind":"actionable"}`)
	assert.False(t, ok)
	_, ok = parseVerdict("plain words")
	assert.False(t, ok)
}
