// Package rules applies mailbox automation rules to freshly synced messages.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"jenn_worker/core/agent"
	"jenn_worker/core/agent/llm"
	"jenn_worker/core/agent/tools"
	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/logger"
	"jenn_worker/pkg/mailtext"
)

const (
	labelRuleSelect = "rule-select"
	labelDraftReply = "draft-reply"

	promptBodyChars = 6000
	// threadMessageLimit caps how much history the agent sees.
	threadMessageLimit = 20
)

// =============================================================================
// Collaborators
// =============================================================================

// AgentRunner runs the business agent over a thread.
type AgentRunner interface {
	Run(ctx context.Context, in agent.RunInput) (*agent.RunResult, error)
}

// ToolResolver assembles the agent tools enabled for an email account.
type ToolResolver interface {
	ToolsFor(ctx context.Context, emailAccountID int64) (*tools.Registry, error)
}

// HistoryItem is one message handed over by the sync pass.
type HistoryItem struct {
	MessageID  int64 // provider UID
	PreFetched *domain.FetchedMessage
}

// ProcessOptions carries the per-pass context.
type ProcessOptions struct {
	Provider    out.MailProvider
	Mailbox     *domain.Mailbox
	Rules       []*domain.MailRule
	HasAIAccess bool
	Logger      *logger.Logger
}

func (o ProcessOptions) account() domain.AccountRef {
	return domain.AccountRef{
		UserID:         o.Mailbox.UserID,
		EmailAccountID: o.Mailbox.EmailAccountID,
		Email:          o.Mailbox.Address,
	}
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline evaluates rules against one message and runs the matched actions.
type Pipeline struct {
	llm   *llm.Orchestrator
	plans llm.PlanSource
	agent AgentRunner
	tools ToolResolver
}

// NewPipeline builds a pipeline. agentRunner and toolResolver may be nil, which disables run_agent.
func NewPipeline(orchestrator *llm.Orchestrator, plans llm.PlanSource, agentRunner AgentRunner, toolResolver ToolResolver) *Pipeline {
	return &Pipeline{llm: orchestrator, plans: plans, agent: agentRunner, tools: toolResolver}
}

// ProcessHistoryItem applies rules to one message. Errors of individual actions are joined
// and returned after every action had its chance.
func (p *Pipeline) ProcessHistoryItem(ctx context.Context, item HistoryItem, opts ProcessOptions) error {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithField("uid", item.MessageID)

	msg := item.PreFetched
	if msg == nil {
		fetched, err := opts.Provider.GetMessage(ctx, item.MessageID)
		if err != nil {
			return fmt.Errorf("fetch message %d: %w", item.MessageID, err)
		}
		msg = fetched
	}

	matched, err := p.match(ctx, msg, opts, log)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		log.Debug("[Pipeline.ProcessHistoryItem] no rule matched")
		return nil
	}

	var errs []error
	for _, action := range planActions(matched, opts.HasAIAccess) {
		if err := p.runAction(ctx, msg, action, opts, log); err != nil {
			log.WithError(err).WithField("action", action.Type).Warn("[Pipeline.ProcessHistoryItem] action failed")
			errs = append(errs, fmt.Errorf("%s: %w", action.Type, err))
		}
	}
	return errors.Join(errs...)
}

// match returns the matched rules in priority order.
func (p *Pipeline) match(ctx context.Context, msg *domain.FetchedMessage, opts ProcessOptions, log *logger.Logger) ([]*domain.MailRule, error) {
	active := make([]*domain.MailRule, 0, len(opts.Rules))
	for _, r := range opts.Rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	var (
		matched []*domain.MailRule
		aiRules []*domain.MailRule
	)
	for _, r := range active {
		switch {
		case r.IsAI():
			if !opts.HasAIAccess {
				log.WithField("rule_id", r.ID).Debug("[Pipeline.match] skipping ai rule without ai access")
				continue
			}
			aiRules = append(aiRules, r)
		case r.MatchesStatic(msg):
			matched = append(matched, r)
		}
	}
	if len(aiRules) == 0 {
		return matched, nil
	}

	selected, err := p.selectAIRules(ctx, msg, aiRules, opts)
	if err != nil {
		return nil, fmt.Errorf("select ai rules: %w", err)
	}
	log.WithField("selected", len(selected)).Debug("[Pipeline.match] ai rules evaluated")

	all := append(matched, selected...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority > all[j].Priority })
	return all, nil
}

type ruleSelection struct {
	RuleIDs []int64 `json:"rule_ids"`
	Reason  string  `json:"reason,omitempty"`
}

func (p *Pipeline) selectAIRules(ctx context.Context, msg *domain.FetchedMessage, candidates []*domain.MailRule, opts ProcessOptions) ([]*domain.MailRule, error) {
	account := opts.account()
	plan, err := p.plans.PlanFor(ctx, account)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("RULES:\n")
	for _, r := range candidates {
		fmt.Fprintf(&b, "- id %d (%s): %s\n", r.ID, r.Name, r.Instructions)
	}
	b.WriteString("\nEMAIL:\n")
	b.WriteString(renderMessage(msg))

	res, err := llm.GenerateObject[ruleSelection](ctx, p.llm, llm.ObjectRequest{
		Invocation: llm.Invocation{Account: account, Label: labelRuleSelect, Plan: plan},
		System:     "You decide which mailbox automation rules apply to an incoming email. Select only rules whose instructions clearly describe this email. Selecting none is fine.",
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Schema:     `{"rule_ids": [number], "reason": "string"}`,
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*domain.MailRule, len(candidates))
	for _, r := range candidates {
		byID[r.ID] = r
	}
	var selected []*domain.MailRule
	seen := map[int64]bool{}
	for _, id := range res.Object.RuleIDs {
		if r, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			selected = append(selected, r)
		}
	}
	return selected, nil
}

// planActions flattens matched rules into one ordered action list. Duplicates collapse,
// archive runs last because it moves the message out of the synced folder.
func planActions(matched []*domain.MailRule, hasAI bool) []domain.RuleAction {
	var (
		actions []domain.RuleAction
		archive bool
		seen    = map[string]bool{}
	)
	for _, r := range matched {
		for _, a := range r.Actions {
			if !hasAI && a.NeedsAI() {
				continue
			}
			if a.Type == domain.ActionArchive {
				archive = true
				continue
			}
			key := string(a.Type) + "\x00" + a.Value
			if seen[key] {
				continue
			}
			seen[key] = true
			actions = append(actions, a)
		}
	}
	if archive {
		actions = append(actions, domain.RuleAction{Type: domain.ActionArchive})
	}
	return actions
}

func (p *Pipeline) runAction(ctx context.Context, msg *domain.FetchedMessage, action domain.RuleAction, opts ProcessOptions, log *logger.Logger) error {
	switch action.Type {
	case domain.ActionLabel:
		if strings.TrimSpace(action.Value) == "" {
			return errors.New("label action without a label")
		}
		return opts.Provider.Label(ctx, msg.UID, action.Value)
	case domain.ActionArchive:
		return opts.Provider.Archive(ctx, msg.UID)
	case domain.ActionMarkRead:
		return opts.Provider.MarkRead(ctx, msg.UID)
	case domain.ActionDraftReply:
		return p.draftReply(ctx, msg, action.Value, opts)
	case domain.ActionRunAgent:
		return p.runAgent(ctx, msg, action.Value, opts, log)
	default:
		return fmt.Errorf("unknown action %q", action.Type)
	}
}

func (p *Pipeline) draftReply(ctx context.Context, msg *domain.FetchedMessage, instructions string, opts ProcessOptions) error {
	account := opts.account()
	plan, err := p.plans.PlanFor(ctx, account)
	if err != nil {
		return err
	}

	system := "You write email replies on behalf of " + account.Email + ". Reply in the language of the email. " +
		"Write only the reply body, no subject line, no placeholders."
	if strings.TrimSpace(instructions) != "" {
		system += "\n\nAdditional instructions: " + instructions
	}
	res, err := p.llm.GenerateText(ctx, llm.TextRequest{
		Invocation: llm.Invocation{Account: account, Label: labelDraftReply, Plan: plan},
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: renderMessage(msg)}},
	})
	if err != nil {
		return err
	}
	return opts.Provider.AppendDraft(ctx, replyDraft(msg, account.Email, res.Text))
}

func (p *Pipeline) runAgent(ctx context.Context, msg *domain.FetchedMessage, mode string, opts ProcessOptions, log *logger.Logger) error {
	if p.agent == nil || p.tools == nil {
		return errors.New("business agent is not configured")
	}
	registry, err := p.tools.ToolsFor(ctx, opts.Mailbox.EmailAccountID)
	if err != nil {
		return err
	}

	threadKey := msg.ThreadKey
	if threadKey == "" {
		threadKey = strconv.FormatInt(msg.UID, 10)
	}
	res, err := p.agent.Run(ctx, agent.RunInput{
		Account:   opts.account(),
		ThreadKey: threadKey,
		Thread:    loadThread(ctx, msg, opts.Provider, log),
		Tools:     registry,
	})
	if err != nil {
		return err
	}
	if res.Response == nil {
		log.Debug("[Pipeline.runAgent] nothing actionable")
		return nil
	}
	log.WithField("tool_calls", len(res.ToolCalls)).Info("[Pipeline.runAgent] %s", *res.Response)

	// "draft" stores the agent's summary as a draft reply for the owner to review.
	if mode == "draft" {
		return opts.Provider.AppendDraft(ctx, replyDraft(msg, opts.Mailbox.Address, *res.Response))
	}
	return nil
}

// loadThread returns the message's thread in UID order, always including msg itself.
// A failed lookup degrades to the single message.
func loadThread(ctx context.Context, msg *domain.FetchedMessage, provider out.MailProvider, log *logger.Logger) []*domain.FetchedMessage {
	if msg.ThreadKey == "" {
		return []*domain.FetchedMessage{msg}
	}
	thread, err := provider.GetThread(ctx, msg.ThreadKey, threadMessageLimit)
	if err != nil {
		log.WithError(err).Warn("[Pipeline.runAgent] thread lookup failed, using the single message")
		return []*domain.FetchedMessage{msg}
	}

	merged := make([]*domain.FetchedMessage, 0, len(thread)+1)
	for _, m := range thread {
		if m != nil && m.UID != msg.UID {
			merged = append(merged, m)
		}
	}
	merged = append(merged, msg)
	sort.Slice(merged, func(i, j int) bool { return merged[i].UID < merged[j].UID })
	if len(merged) > threadMessageLimit {
		merged = merged[len(merged)-threadMessageLimit:]
	}
	return merged
}

func replyDraft(msg *domain.FetchedMessage, from, body string) *domain.OutgoingDraft {
	d := &domain.OutgoingDraft{
		From:    from,
		To:      []string{msg.From},
		Subject: domain.ReplySubject(msg.Subject),
		Body:    strings.TrimSpace(body),
	}
	if msg.MessageID != "" {
		d.InReplyTo = msg.MessageID
		d.References = []string{msg.MessageID}
	}
	return d
}

func renderMessage(msg *domain.FetchedMessage) string {
	body := mailtext.Body(msg.TextBody, msg.HTMLBody)
	if body == "" {
		body = msg.Snippet
	}
	return fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\n\n%s",
		msg.From, strings.Join(msg.To, ", "), msg.Subject, mailtext.Truncate(body, promptBodyChars))
}
