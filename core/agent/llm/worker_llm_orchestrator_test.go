package llm

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jenn_worker/core/domain"
)

func TestBuildExecutionPlan(t *testing.T) {
	p := NewTarget(newFakeModel("openai", "P", okText("")))
	b := NewTarget(newFakeModel("anthropic", "B", okText("")))
	f1 := NewTarget(newFakeModel("groq", "F1", okText("")))
	f2 := NewTarget(newFakeModel("mistral", "F2", okText("")))

	t.Run("full bundle keeps configured order", func(t *testing.T) {
		plan := BuildExecutionPlan(ModelConfig{Primary: p, Backup: &b, Fallbacks: []Target{f1, f2}})
		require.Len(t, plan, 4)
		assert.Equal(t, []string{"P", "B", "F1", "F2"}, names(plan))
	})

	t.Run("primary only", func(t *testing.T) {
		plan := BuildExecutionPlan(ModelConfig{Primary: p})
		assert.Equal(t, []string{"P"}, names(plan))
	})

	t.Run("fallbacks without backup", func(t *testing.T) {
		plan := BuildExecutionPlan(ModelConfig{Primary: p, Fallbacks: []Target{f2, f1}})
		assert.Equal(t, []string{"P", "F2", "F1"}, names(plan))
	})

	t.Run("unbuilt fallback is skipped", func(t *testing.T) {
		plan := BuildExecutionPlan(ModelConfig{Primary: p, Fallbacks: []Target{{Name: "broken"}, f1}})
		assert.Equal(t, []string{"P", "F1"}, names(plan))
	})
}

func names(plan []Target) []string {
	out := make([]string, len(plan))
	for i, t := range plan {
		out[i] = t.Name
	}
	return out
}

func TestGenerateText_FallsBackOnRateLimit(t *testing.T) {
	o, rec, notif, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	primary := newFakeModel("openai", "gpt-4o", failWith(&ProviderError{Provider: "openai", StatusCode: 429, Message: "Rate limit reached"}))
	fallback := newFakeModel("groq", "llama-3.1-70b", okText("hello from fallback"))

	res, err := o.GenerateText(context.Background(), TextRequest{
		Invocation: testInvocation(NewTarget(primary), NewTarget(fallback)),
		Messages:   []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello from fallback", res.Text)
	assert.Equal(t, "llama-3.1-70b", res.Target.Name)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, fallback.Calls())

	require.Len(t, rec.records, 1)
	assert.Equal(t, "groq", rec.records[0].Provider)
	assert.Equal(t, "llama-3.1-70b", rec.records[0].Model)
	assert.Equal(t, "test", rec.records[0].Label)
	assert.Equal(t, 15, rec.records[0].Usage.TotalTokens)
	assert.Empty(t, notif.notices)
}

func TestGenerateText_FatalErrorSkipsFallback(t *testing.T) {
	o, rec, notif, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	original := &ProviderError{Provider: "openai", StatusCode: 401, Code: "invalid_api_key", Message: "Incorrect API key provided"}
	primary := newFakeModel("openai", "gpt-4o", failWith(original))
	fallback := newFakeModel("groq", "llama", okText("unused"))

	_, err := o.GenerateText(context.Background(), TextRequest{
		Invocation: testInvocation(NewTarget(primary), NewTarget(fallback)),
		Messages:   []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Same(t, original, err)
	assert.Equal(t, 0, fallback.Calls())
	assert.Empty(t, rec.records)

	require.Len(t, notif.notices, 1)
	assert.Equal(t, domain.ErrorCategoryInvalidAPIKey, notif.notices[0].Category)
	assert.Equal(t, "gpt-4o", notif.notices[0].Model)
	assert.Equal(t, "owner@example.com", notif.notices[0].Email)
}

func TestGenerateText_AllModelsExhausted(t *testing.T) {
	o, rec, notif, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	unavailable := &ProviderError{Provider: "x", StatusCode: 503, Message: "service unavailable"}
	a := newFakeModel("openai", "a", failWith(unavailable))
	b := newFakeModel("groq", "b", failWith(&ProviderError{Provider: "y", StatusCode: 529, Message: "Overloaded"}))

	_, err := o.GenerateText(context.Background(), TextRequest{
		Invocation: testInvocation(NewTarget(a), NewTarget(b)),
		Messages:   []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllModelsExhausted)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 529, pe.StatusCode)

	assert.Empty(t, rec.records)
	require.Len(t, notif.notices, 1)
	assert.Equal(t, domain.ErrorCategoryAllModelsFailed, notif.notices[0].Category)
}

func TestGenerateText_DeadlineAbortsMidPlan(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.Deadline = 20 * time.Millisecond
	o, _, notif, _ := newTestOrchestrator(cfg)

	blocking := &blockingModel{fakeModel: &fakeModel{provider: "openai", name: "slow"}}
	fallback := newFakeModel("groq", "fast", okText("too late"))

	_, err := o.GenerateText(context.Background(), TextRequest{
		Invocation: testInvocation(NewTarget(blocking), NewTarget(fallback)),
		Messages:   []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, fallback.Calls())

	require.Len(t, notif.notices, 1)
	assert.Equal(t, domain.ErrorCategoryTimeout, notif.notices[0].Category)
}

// blockingModel waits for the context, like a provider call that outlives the deadline.
type blockingModel struct {
	*fakeModel
}

func (m *blockingModel) Generate(ctx context.Context, _ *CallRequest) (*CallResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGenerateText_ToolLoopStopsAtMaxSteps(t *testing.T) {
	o, rec, _, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	model := newFakeModel("openai", "gpt-4o", func(call int, _ *CallRequest) (*CallResponse, error) {
		return &CallResponse{
			ToolCalls: []ToolCall{{ID: "call_" + strconv.Itoa(call), Name: "again", Arguments: `{}`}},
			Usage:     domain.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		}, nil
	})
	tools := &loopTools{}

	res, err := o.GenerateText(context.Background(), TextRequest{
		Invocation: testInvocation(NewTarget(model)),
		Messages:   []Message{{Role: RoleUser, Content: "go"}},
		Tools:      tools,
		MaxSteps:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, res.Steps)
	assert.True(t, res.StepLimitReached)
	assert.Equal(t, 10, model.Calls())
	assert.Equal(t, 10, tools.invoked)
	assert.Len(t, res.ToolCalls, 10)
	require.Len(t, rec.records, 1)
	assert.Equal(t, 20, rec.records[0].Usage.TotalTokens)
}

type loopTools struct {
	invoked int
}

func (l *loopTools) Specs() []ToolSpec {
	return []ToolSpec{{Name: "again", Description: "asks for another call", Parameters: map[string]any{"type": "object"}}}
}

func (l *loopTools) Invoke(_ context.Context, _ ToolCall) (string, error) {
	l.invoked++
	return "call me again", nil
}

func TestGenerateText_ToolResultsFedBack(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	model := newFakeModel("openai", "gpt-4o", func(call int, req *CallRequest) (*CallResponse, error) {
		if call == 1 {
			return &CallResponse{
				ToolCalls: []ToolCall{{ID: "c1", Name: "again", Arguments: `{}`}},
				Usage:     domain.TokenUsage{TotalTokens: 2},
			}, nil
		}
		last := req.Messages[len(req.Messages)-1]
		return &CallResponse{Content: "saw " + last.Content, Usage: domain.TokenUsage{TotalTokens: 3}}, nil
	})

	res, err := o.GenerateText(context.Background(), TextRequest{
		Invocation: testInvocation(NewTarget(model)),
		System:     "be brief",
		Messages:   []Message{{Role: RoleUser, Content: "go"}},
		Tools:      &loopTools{},
		MaxSteps:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, "saw call me again", res.Text)
	assert.Equal(t, 2, res.Steps)
	assert.False(t, res.StepLimitReached)

	second := model.requests[1]
	require.Len(t, second.Messages, 4)
	assert.Equal(t, RoleSystem, second.Messages[0].Role)
	assert.Equal(t, RoleAssistant, second.Messages[2].Role)
	assert.Equal(t, RoleTool, second.Messages[3].Role)
	assert.Equal(t, "c1", second.Messages[3].ToolCallID)
}

type countingTools struct {
	invoked []string
}

func (c *countingTools) Specs() []ToolSpec {
	return []ToolSpec{{Name: "crm_lead_create", Description: "creates a lead", Parameters: map[string]any{"type": "object"}}}
}

func (c *countingTools) Invoke(_ context.Context, call ToolCall) (string, error) {
	c.invoked = append(c.invoked, call.ID)
	return "lead 42 created", nil
}

func TestGenerateText_FallbackResumesTranscriptWithoutRerunningTools(t *testing.T) {
	o, rec, _, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	primary := newFakeModel("openai", "gpt-4o", func(call int, _ *CallRequest) (*CallResponse, error) {
		if call == 1 {
			return &CallResponse{
				ToolCalls: []ToolCall{{ID: "c1", Name: "crm_lead_create", Arguments: `{"name":"Acme"}`}},
				Usage:     domain.TokenUsage{TotalTokens: 2},
			}, nil
		}
		return nil, &ProviderError{Provider: "openai", StatusCode: 429, Message: "Rate limit reached"}
	})
	fallback := newFakeModel("groq", "llama-3.1-70b", func(_ int, req *CallRequest) (*CallResponse, error) {
		last := req.Messages[len(req.Messages)-1]
		if last.Role == RoleTool {
			return &CallResponse{Content: "done: " + last.Content, Usage: domain.TokenUsage{TotalTokens: 3}}, nil
		}
		return &CallResponse{
			ToolCalls: []ToolCall{{ID: "c2", Name: "crm_lead_create", Arguments: `{"name":"Acme"}`}},
			Usage:     domain.TokenUsage{TotalTokens: 2},
		}, nil
	})
	tools := &countingTools{}

	res, err := o.GenerateText(context.Background(), TextRequest{
		Invocation: testInvocation(NewTarget(primary), NewTarget(fallback)),
		Messages:   []Message{{Role: RoleUser, Content: "create the lead"}},
		Tools:      tools,
		MaxSteps:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, tools.invoked)
	assert.Equal(t, "done: lead 42 created", res.Text)
	assert.Equal(t, 2, res.Steps)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "openai/gpt-4o", res.ToolCalls[0].Issuer)

	require.Len(t, fallback.requests, 1)
	resumed := fallback.requests[0].Messages
	require.Len(t, resumed, 3)
	assert.Equal(t, RoleAssistant, resumed[1].Role)
	assert.Equal(t, "c1", resumed[2].ToolCallID)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "groq", rec.records[0].Provider)
}

type verdictObject struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

func (v *verdictObject) Validate() error {
	if v.Kind != "actionable" && v.Kind != "no_action" {
		return errors.New("kind must be actionable or no_action")
	}
	return nil
}

func TestGenerateObject_RetriesSameModelBeforeSucceeding(t *testing.T) {
	o, rec, _, sleeps := newTestOrchestrator(DefaultOrchestratorConfig())

	model := newFakeModel("openai", "gpt-4o-mini", func(call int, req *CallRequest) (*CallResponse, error) {
		if call <= 2 {
			return &CallResponse{Content: `{"kind":"maybe"}`, Usage: domain.TokenUsage{TotalTokens: 4}}, nil
		}
		return &CallResponse{Content: "```json\n{\"kind\":\"actionable\",\"text\":\"ok\",}\n```", Usage: domain.TokenUsage{TotalTokens: 9}}, nil
	})
	fallback := newFakeModel("groq", "llama", okText(`{"kind":"no_action"}`))

	res, err := GenerateObject[verdictObject](context.Background(), o, ObjectRequest{
		Invocation: testInvocation(NewTarget(model), NewTarget(fallback)),
		Messages:   []Message{{Role: RoleUser, Content: "judge"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "actionable", res.Object.Kind)
	assert.Equal(t, "ok", res.Object.Text)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, model.Calls())
	assert.Equal(t, 0, fallback.Calls())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps)
	assert.True(t, model.requests[0].JSONMode)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "gpt-4o-mini", rec.records[0].Model)
	assert.Equal(t, 3, rec.records[0].Attempts)
}

func TestGenerateObject_ValidOutputWithBackticksDecodesFirstTry(t *testing.T) {
	o, _, notif, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	model := newFakeModel("openai", "gpt-4o", okText("{\"kind\":\"actionable\",\"text\":\"Run ```ls``` now\"}"))

	res, err := GenerateObject[verdictObject](context.Background(), o, ObjectRequest{
		Invocation: testInvocation(NewTarget(model)),
		Messages:   []Message{{Role: RoleUser, Content: "judge"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Run ```ls``` now", res.Object.Text)
	assert.Equal(t, 1, model.Calls())
	assert.Empty(t, notif.notices)
}

func TestGenerateObject_AdvancesAfterRetryExhaustion(t *testing.T) {
	o, rec, _, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	model := newFakeModel("openai", "gpt-4o-mini", okText("I cannot answer that"))
	fallback := newFakeModel("groq", "llama", okText(`{"kind":"no_action"}`))

	res, err := GenerateObject[verdictObject](context.Background(), o, ObjectRequest{
		Invocation: testInvocation(NewTarget(model), NewTarget(fallback)),
		Messages:   []Message{{Role: RoleUser, Content: "judge"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "no_action", res.Object.Kind)
	assert.Equal(t, 3, model.Calls())
	assert.Equal(t, 1, fallback.Calls())
	require.Len(t, rec.records, 1)
	assert.Equal(t, "groq", rec.records[0].Provider)
}

func TestStreamText_FallbackOnlyWhileOpening(t *testing.T) {
	o, rec, _, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	primary := &fakeModel{provider: "openai", name: "gpt-4o"}
	primary.stream = func(int) (ChunkStream, error) {
		return nil, &ProviderError{Provider: "openai", StatusCode: 503, Message: "unavailable"}
	}
	fallback := &fakeModel{provider: "groq", name: "llama"}
	fallback.stream = func(int) (ChunkStream, error) {
		return &sliceStream{chunks: []StreamChunk{
			{Delta: "Hel"},
			{Delta: "lo", Usage: &domain.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
		}}, nil
	}

	stream, err := o.StreamText(context.Background(), StreamRequest{
		Invocation: testInvocation(NewTarget(primary), NewTarget(fallback)),
		Messages:   []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "llama", stream.Target().Name)

	var got string
	for {
		delta, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got += delta
	}
	assert.Equal(t, "Hello", got)
	assert.Equal(t, "Hello", stream.Text())

	require.Len(t, rec.records, 1)
	assert.Equal(t, "llama", rec.records[0].Model)
	assert.Equal(t, 5, rec.records[0].Usage.TotalTokens)
	assert.False(t, rec.records[0].Estimated)
}

func TestStreamText_RuntimeErrorIsReportedNotRetried(t *testing.T) {
	o, rec, _, _ := newTestOrchestrator(DefaultOrchestratorConfig())

	broken := errors.New("connection reset by peer")
	primary := &fakeModel{provider: "openai", name: "gpt-4o"}
	primary.stream = func(int) (ChunkStream, error) {
		return &sliceStream{chunks: []StreamChunk{{Delta: "par"}}, err: broken}, nil
	}
	fallback := &fakeModel{provider: "groq", name: "llama"}

	var reported []error
	stream, err := o.StreamText(context.Background(), StreamRequest{
		Invocation: testInvocation(NewTarget(primary), NewTarget(fallback)),
		Messages:   []Message{{Role: RoleUser, Content: "hi"}},
		OnError:    func(err error) { reported = append(reported, err) },
	})
	require.NoError(t, err)

	delta, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "par", delta)

	_, err = stream.Next()
	assert.ErrorIs(t, err, broken)
	_, err = stream.Next()
	assert.ErrorIs(t, err, broken)

	require.Len(t, reported, 1)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 0, fallback.Calls())
	assert.Empty(t, rec.records)
}

func TestExecute_EmptyPlan(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(DefaultOrchestratorConfig())
	_, err := o.GenerateText(context.Background(), TextRequest{Invocation: testInvocation()})
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestParseToolArguments(t *testing.T) {
	args, err := ParseToolArguments(`{"email": "a@b.c", "limit": 5,}`)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", args["email"])
	assert.EqualValues(t, 5, args["limit"])

	args, err = ParseToolArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseToolArguments("{\"description\":\"Customer sent: ```order 42```\"}")
	require.NoError(t, err)
	assert.Equal(t, "Customer sent: ```order 42```", args["description"])
}
