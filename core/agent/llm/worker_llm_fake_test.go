package llm

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jenn_worker/core/domain"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeModel struct {
	provider string
	name     string

	mu       sync.Mutex
	calls    int
	requests []*CallRequest
	generate func(call int, req *CallRequest) (*CallResponse, error)
	stream   func(call int) (ChunkStream, error)
}

func newFakeModel(provider, name string, generate func(call int, req *CallRequest) (*CallResponse, error)) *fakeModel {
	return &fakeModel{provider: provider, name: name, generate: generate}
}

func (m *fakeModel) Provider() string  { return m.provider }
func (m *fakeModel) ModelName() string { return m.name }

func (m *fakeModel) Generate(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.generate(call, req)
}

func (m *fakeModel) Stream(ctx context.Context, req *CallRequest) (ChunkStream, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.stream(call)
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func okText(text string) func(int, *CallRequest) (*CallResponse, error) {
	return func(int, *CallRequest) (*CallResponse, error) {
		return &CallResponse{Content: text, Usage: domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
	}
}

func failWith(err error) func(int, *CallRequest) (*CallResponse, error) {
	return func(int, *CallRequest) (*CallResponse, error) { return nil, err }
}

type sliceStream struct {
	chunks []StreamChunk
	err    error
	pos    int
	closed bool
}

func (s *sliceStream) Recv() (StreamChunk, error) {
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return StreamChunk{}, s.err
	}
	return StreamChunk{}, io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type recorderSpy struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

func (r *recorderSpy) RecordUsage(_ context.Context, rec domain.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

type notifierSpy struct {
	mu      sync.Mutex
	notices []domain.UserErrorNotice
}

func (n *notifierSpy) NotifyUserError(_ context.Context, notice domain.UserErrorNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func newTestOrchestrator(cfg OrchestratorConfig) (*Orchestrator, *recorderSpy, *notifierSpy, *[]time.Duration) {
	rec := &recorderSpy{}
	notif := &notifierSpy{}
	o := NewOrchestrator(cfg, rec, notif, zerolog.Nop())
	var sleeps []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return o, rec, notif, &sleeps
}

func testInvocation(plan ...Target) Invocation {
	return Invocation{
		Account: domain.AccountRef{EmailAccountID: 7, Email: "owner@example.com"},
		Label:   "test",
		Plan:    plan,
	}
}
