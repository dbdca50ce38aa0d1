package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/metrics"
)

// =============================================================================
// Orchestrator
// =============================================================================

// OrchestratorConfig tunes retry and deadline behaviour.
type OrchestratorConfig struct {
	// ObjectRetries is the number of extra same-model attempts for object generation.
	ObjectRetries int
	// ObjectRetryDelay is the fixed pause between same-model attempts.
	ObjectRetryDelay time.Duration
	// Deadline caps one whole plan walk. Zero leaves only the caller's context.
	Deadline time.Duration
}

// DefaultOrchestratorConfig retries objects twice with a 1s pause and sets no deadline.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ObjectRetries:    2,
		ObjectRetryDelay: time.Second,
	}
}

// Orchestrator walks an execution plan, classifying each failure.
// Attempts are strictly sequential.
type Orchestrator struct {
	cfg      OrchestratorConfig
	recorder out.UsageRecorder
	notifier out.ErrorNotifier
	log      zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator builds an orchestrator. recorder and notifier may be nil.
func NewOrchestrator(cfg OrchestratorConfig, recorder out.UsageRecorder, notifier out.ErrorNotifier, log zerolog.Logger) *Orchestrator {
	if cfg.ObjectRetries < 0 {
		cfg.ObjectRetries = 0
	}
	return &Orchestrator{
		cfg:      cfg,
		recorder: recorder,
		notifier: notifier,
		log:      log.With().Str("component", "llm_orchestrator").Logger(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Invocation carries what every generation needs: who pays, why, and where to try.
type Invocation struct {
	Account domain.AccountRef
	Label   string
	Plan    []Target
}

type attemptFunc func(ctx context.Context, t Target) error

// execute runs fn over the plan. It returns the target that succeeded and the total attempt count.
func (o *Orchestrator) execute(ctx context.Context, inv Invocation, sameModelRetries int, fn attemptFunc) (Target, int, error) {
	if len(inv.Plan) == 0 || inv.Plan[0].Model == nil {
		return Target{}, 0, ErrEmptyPlan
	}

	log := o.log.With().
		Str("label", inv.Label).
		Str("account", inv.Account.Email).
		Int64("email_account_id", inv.Account.EmailAccountID).
		Logger()
	log.Debug().Str("plan", PlanString(inv.Plan)).Msg("running plan")

	var (
		lastErr  error
		attempts int
		tried    []string
	)

plan:
	for i, target := range inv.Plan {
		tried = append(tried, target.Provider+"/"+target.Name)

		for retry := 0; ; retry++ {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return target, attempts, o.timeout(ctx, inv, target, attempts, ctxErr)
			}

			attempts++
			err := fn(ctx, target)
			if err == nil {
				metrics.LLMAttempts.WithLabelValues(target.Provider, target.Name, "success").Inc()
				if i > 0 || retry > 0 {
					log.Info().
						Str("provider", target.Provider).
						Str("model", target.Name).
						Int("plan_index", i).
						Int("retry", retry).
						Msg("generation succeeded after fallback")
				}
				if i > 0 {
					metrics.LLMFallbacks.WithLabelValues(inv.Label).Inc()
				}
				return target, attempts, nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				metrics.LLMAttempts.WithLabelValues(target.Provider, target.Name, "timeout").Inc()
				return target, attempts, o.timeout(ctx, inv, target, attempts, errors.Join(ctxErr, err))
			}

			lastErr = err
			verdict := Classify(err)

			switch verdict {
			case VerdictRetrySameModel:
				if retry < sameModelRetries {
					metrics.LLMAttempts.WithLabelValues(target.Provider, target.Name, "retry").Inc()
					log.Debug().Err(err).
						Str("model", target.Name).
						Int("retry", retry+1).
						Int("max_retries", sameModelRetries).
						Msg("invalid structured output, retrying same model")
					if sleepErr := o.sleep(ctx, o.cfg.ObjectRetryDelay); sleepErr != nil {
						return target, attempts, o.timeout(ctx, inv, target, attempts, sleepErr)
					}
					continue
				}
				log.Warn().Err(err).
					Str("model", target.Name).
					Int("plan_index", i).
					Msg("same-model retries exhausted, advancing plan")
				metrics.LLMAttempts.WithLabelValues(target.Provider, target.Name, "advance").Inc()
				continue plan

			case VerdictAdvancePlan:
				metrics.LLMAttempts.WithLabelValues(target.Provider, target.Name, "advance").Inc()
				log.Info().Err(err).
					Str("provider", target.Provider).
					Str("model", target.Name).
					Int("plan_index", i).
					Msg("fallback triggered, trying next model")
				continue plan

			default:
				metrics.LLMAttempts.WithLabelValues(target.Provider, target.Name, "fatal").Inc()
				category := Categorize(err)
				log.Error().Err(err).
					Str("provider", target.Provider).
					Str("model", target.Name).
					Str("category", string(category)).
					Int("attempts", attempts).
					Msg("non-recoverable generation error")
				o.notify(ctx, inv, target, category)
				return target, attempts, err
			}
		}
	}

	exhausted := &ExhaustedError{Attempts: attempts, Tried: tried, Last: lastErr}
	last := inv.Plan[len(inv.Plan)-1]
	log.Error().Err(lastErr).
		Int("attempts", attempts).
		Strs("tried", tried).
		Msg("all models in the execution plan failed")
	o.notify(ctx, inv, last, domain.ErrorCategoryAllModelsFailed)
	return last, attempts, exhausted
}

func (o *Orchestrator) timeout(ctx context.Context, inv Invocation, target Target, attempts int, cause error) error {
	err := fmt.Errorf("%w: %w", ErrGenerationTimeout, cause)
	o.log.Error().Err(cause).
		Str("label", inv.Label).
		Str("account", inv.Account.Email).
		Str("model", target.Name).
		Int("attempts", attempts).
		Msg("generation aborted mid-plan")
	o.notify(ctx, inv, target, domain.ErrorCategoryTimeout)
	return err
}

func (o *Orchestrator) notify(ctx context.Context, inv Invocation, target Target, category domain.ErrorCategory) {
	if o.notifier == nil {
		return
	}
	notice := domain.UserErrorNotice{
		UserID:    inv.Account.UserID,
		Email:     inv.Account.Email,
		Category:  category,
		Message:   category.UserMessage(),
		Label:     inv.Label,
		Model:     target.Name,
		CreatedAt: o.now(),
	}
	if err := o.notifier.NotifyUserError(context.WithoutCancel(ctx), notice); err != nil {
		o.log.Warn().Err(err).Str("category", string(category)).Msg("failed to store user error notice")
	}
}

func (o *Orchestrator) recordUsage(ctx context.Context, inv Invocation, target Target, usage domain.TokenUsage, estimated bool, attempts int) {
	metrics.LLMTokens.WithLabelValues(target.Provider, target.Name, "prompt").Add(float64(usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(target.Provider, target.Name, "completion").Add(float64(usage.CompletionTokens))

	if o.recorder == nil {
		return
	}
	rec := domain.UsageRecord{
		ID:        uuid.New(),
		Account:   inv.Account,
		Provider:  target.Provider,
		Model:     target.Name,
		Label:     inv.Label,
		Usage:     usage,
		Estimated: estimated,
		Attempts:  attempts,
		CreatedAt: o.now(),
	}
	if err := o.recorder.RecordUsage(context.WithoutCancel(ctx), rec); err != nil {
		o.log.Warn().Err(err).
			Str("label", inv.Label).
			Str("model", target.Name).
			Msg("failed to record usage")
	}
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.Deadline > 0 {
		return context.WithTimeout(ctx, o.cfg.Deadline)
	}
	return context.WithCancel(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func buildMessages(system string, msgs []Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, Message{Role: RoleSystem, Content: system})
	}
	return append(out, msgs...)
}

// =============================================================================
// Text
// =============================================================================

// TextRequest asks for free text, optionally running a bounded tool loop.
type TextRequest struct {
	Invocation
	System      string
	Messages    []Message
	Tools       ToolSet
	MaxSteps    int
	Temperature *float32
	MaxTokens   int
}

// TextResult is the outcome of GenerateText.
type TextResult struct {
	Text             string
	Target           Target
	Usage            domain.TokenUsage
	Attempts         int
	Steps            int
	StepLimitReached bool
	ToolCalls        []ToolInvocation
}

// GenerateText makes one blocking call per step per target. When a target fails mid tool loop the
// next target resumes from the same transcript, so executed tools never run twice. MaxSteps bounds
// the whole walk, not each target.
func (o *Orchestrator) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	tr := &toolTranscript{msgs: buildMessages(req.System, req.Messages)}
	var (
		result    *TextResult
		estimated bool
	)
	target, attempts, err := o.execute(ctx, req.Invocation, 0, func(ctx context.Context, t Target) error {
		r, est, err := o.runToolLoop(ctx, t, req, tr)
		if err != nil {
			return err
		}
		result, estimated = r, est
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Target = target
	result.Attempts = attempts
	result.ToolCalls = tr.calls
	o.recordUsage(ctx, req.Invocation, target, result.Usage, estimated, attempts)
	return result, nil
}

// toolTranscript is the conversation shared by every target of one GenerateText call.
type toolTranscript struct {
	msgs  []Message
	steps int
	calls []ToolInvocation
}

func (o *Orchestrator) runToolLoop(ctx context.Context, t Target, req TextRequest, tr *toolTranscript) (*TextResult, bool, error) {
	maxSteps := req.MaxSteps
	if maxSteps < 1 {
		maxSteps = 1
	}
	var specs []ToolSpec
	if req.Tools != nil {
		specs = req.Tools.Specs()
	}
	issuer := t.Provider + "/" + t.Name
	if tr.steps > 0 {
		o.log.Info().
			Str("label", req.Label).
			Str("model", t.Name).
			Int("steps_done", tr.steps).
			Int("tool_calls_done", len(tr.calls)).
			Msg("resuming tool loop on fallback target")
	}

	var (
		usage     domain.TokenUsage
		estimated bool
		lastText  string
	)
	for tr.steps < maxSteps {
		resp, err := t.Model.Generate(ctx, &CallRequest{
			Messages:    tr.msgs,
			Tools:       specs,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return nil, false, err
		}
		tr.steps++
		stepUsage := resp.Usage
		if stepUsage.TotalTokens == 0 {
			stepUsage = EstimateUsage(tr.msgs, resp.Content)
			estimated = true
		}
		usage = usage.Add(stepUsage)
		lastText = resp.Content

		if len(resp.ToolCalls) == 0 || req.Tools == nil {
			return &TextResult{Text: resp.Content, Usage: usage, Steps: tr.steps}, estimated, nil
		}

		tr.msgs = append(tr.msgs, Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result, toolErr := req.Tools.Invoke(ctx, call)
			tr.calls = append(tr.calls, ToolInvocation{Call: call, Result: result, Err: toolErr, Issuer: issuer})
			if toolErr != nil {
				result = "error: " + toolErr.Error()
			}
			tr.msgs = append(tr.msgs, Message{Role: RoleTool, Name: call.Name, ToolCallID: call.ID, Content: result})
		}
	}

	o.log.Warn().
		Str("label", req.Label).
		Str("model", t.Name).
		Int("max_steps", maxSteps).
		Msg("tool loop hit step limit")
	return &TextResult{Text: lastText, Usage: usage, Steps: tr.steps, StepLimitReached: true}, estimated, nil
}

// =============================================================================
// Object
// =============================================================================

// Validator is implemented by object types with constraints beyond their JSON shape.
type Validator interface {
	Validate() error
}

// ObjectRequest asks for one JSON object. Schema is a human-readable shape hint.
type ObjectRequest struct {
	Invocation
	System      string
	Messages    []Message
	Schema      string
	Temperature *float32
	MaxTokens   int
}

// ObjectResult is the outcome of GenerateObject.
type ObjectResult[T any] struct {
	Object   T
	Raw      string
	Target   Target
	Usage    domain.TokenUsage
	Attempts int
}

// GenerateObject decodes model output into T after JSON repair. Invalid output is retried on
// the same model up to ObjectRetries extra times before the plan advances.
func GenerateObject[T any](ctx context.Context, o *Orchestrator, req ObjectRequest) (*ObjectResult[T], error) {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	system := req.System
	hint := "Respond with a single JSON object and nothing else."
	if req.Schema != "" {
		hint += " The object must match this shape:\n" + req.Schema
	}
	if system == "" {
		system = hint
	} else {
		system += "\n\n" + hint
	}
	msgs := buildMessages(system, req.Messages)

	var (
		obj       T
		raw       string
		usage     domain.TokenUsage
		estimated bool
	)
	target, attempts, err := o.execute(ctx, req.Invocation, o.cfg.ObjectRetries, func(ctx context.Context, t Target) error {
		resp, err := t.Model.Generate(ctx, &CallRequest{
			Messages:    msgs,
			JSONMode:    true,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return err
		}
		v, err := decodeObject[T](resp.Content)
		if err != nil {
			return err
		}
		obj, raw = v, resp.Content
		usage, estimated = resp.Usage, false
		if usage.TotalTokens == 0 {
			usage, estimated = EstimateUsage(msgs, resp.Content), true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.recordUsage(ctx, req.Invocation, target, usage, estimated, attempts)
	return &ObjectResult[T]{Object: obj, Raw: raw, Target: target, Usage: usage, Attempts: attempts}, nil
}

func decodeObject[T any](content string) (T, error) {
	var v T
	if strings.TrimSpace(content) == "" {
		return v, ErrNoObjectGenerated
	}
	fixed := RepairJSON(content)
	if !strings.HasPrefix(fixed, "{") && !strings.HasPrefix(fixed, "[") {
		return v, ErrNoObjectGenerated
	}
	if err := json.Unmarshal([]byte(fixed), &v); err != nil {
		return v, &SchemaValidationError{Raw: content, Err: err}
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, &SchemaValidationError{Raw: content, Err: err}
		}
	}
	return v, nil
}

// =============================================================================
// Stream
// =============================================================================

// StreamRequest opens a streamed text generation.
type StreamRequest struct {
	Invocation
	System      string
	Messages    []Message
	Temperature *float32
	MaxTokens   int
	// OnError receives run-time stream errors. They are never retried.
	OnError func(err error)
}

// StreamText falls back only while opening the stream. Once a target streams, errors surface
// from Next and OnError.
func (o *Orchestrator) StreamText(ctx context.Context, req StreamRequest) (*TextStream, error) {
	ctx, cancel := o.withDeadline(ctx)

	msgs := buildMessages(req.System, req.Messages)
	var stream ChunkStream
	target, attempts, err := o.execute(ctx, req.Invocation, 0, func(ctx context.Context, t Target) error {
		s, err := t.Model.Stream(ctx, &CallRequest{
			Messages:    msgs,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &TextStream{
		o:        o,
		ctx:      ctx,
		cancel:   cancel,
		inv:      req.Invocation,
		target:   target,
		attempts: attempts,
		prompt:   msgs,
		stream:   stream,
		onError:  req.OnError,
	}, nil
}

// TextStream is an open stream on the target that accepted it.
type TextStream struct {
	o        *Orchestrator
	ctx      context.Context
	cancel   context.CancelFunc
	inv      Invocation
	target   Target
	attempts int
	prompt   []Message
	stream   ChunkStream
	onError  func(err error)

	mu    sync.Mutex
	text  strings.Builder
	usage *domain.TokenUsage
	done  bool
	err   error
}

// Target returns the target serving this stream.
func (s *TextStream) Target() Target { return s.target }

// Attempts returns how many opens were tried before this stream started.
func (s *TextStream) Attempts() int { return s.attempts }

// Next returns the next delta, io.EOF at a clean end, or the run-time error.
func (s *TextStream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}

	chunk, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		s.finish(nil)
		return "", io.EOF
	}
	if err != nil {
		s.finish(err)
		return "", err
	}
	if chunk.Usage != nil {
		u := *chunk.Usage
		s.usage = &u
	}
	s.text.WriteString(chunk.Delta)
	return chunk.Delta, nil
}

// Text returns everything streamed so far.
func (s *TextStream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Close releases the stream. Closing before EOF records no usage.
func (s *TextStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		s.stream.Close()
		s.cancel()
	}
	return nil
}

func (s *TextStream) finish(err error) {
	s.done = true
	s.err = err
	s.stream.Close()
	defer s.cancel()

	if err != nil {
		s.o.log.Error().Err(err).
			Str("label", s.inv.Label).
			Str("account", s.inv.Account.Email).
			Str("model", s.target.Name).
			Msg("stream failed after start")
		if s.onError != nil {
			s.onError(err)
		}
		return
	}

	usage, estimated := domain.TokenUsage{}, false
	if s.usage != nil && s.usage.TotalTokens > 0 {
		usage = *s.usage
	} else {
		usage, estimated = EstimateUsage(s.prompt, s.text.String()), true
	}
	s.o.recordUsage(s.ctx, s.inv, s.target, usage, estimated, s.attempts)
}

// =============================================================================
// Helpers
// =============================================================================

// ParseToolArguments decodes a tool call's raw JSON arguments, repairing sloppy output.
func ParseToolArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(RepairJSON(raw)), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// PlanString renders a plan for logs.
func PlanString(plan []Target) string {
	parts := make([]string, len(plan))
	for i, t := range plan {
		parts[i] = strconv.Itoa(i) + ":" + t.Provider + "/" + t.Name
	}
	return strings.Join(parts, " ")
}
