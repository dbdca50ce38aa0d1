package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Mail Rule - 메일함 자동화 규칙
// =============================================================================

// MailRule is a user-defined automation rule. A rule matches either through its static
// conditions (AND logic) or, when Instructions is set, through an AI selection step.
type MailRule struct {
	ID             int64     `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	EmailAccountID int64     `json:"email_account_id"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"is_active"`
	Priority       int       `json:"priority"` // Higher = processed first

	Conditions []RuleCondition `json:"conditions"`

	// Instructions is a natural-language condition ("invoices from suppliers").
	Instructions string `json:"instructions,omitempty"`

	Actions []RuleAction `json:"actions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAI reports whether the rule needs a model to decide if it matches.
func (r *MailRule) IsAI() bool {
	return strings.TrimSpace(r.Instructions) != ""
}

type ConditionField string

const (
	ConditionFieldFrom    ConditionField = "from"
	ConditionFieldTo      ConditionField = "to"
	ConditionFieldSubject ConditionField = "subject"
	ConditionFieldBody    ConditionField = "body"
	ConditionFieldDomain  ConditionField = "domain"
)

type ConditionOperator string

const (
	OperatorContains    ConditionOperator = "contains"
	OperatorNotContains ConditionOperator = "not_contains"
	OperatorEquals      ConditionOperator = "equals"
	OperatorStartsWith  ConditionOperator = "starts_with"
	OperatorEndsWith    ConditionOperator = "ends_with"
	OperatorMatches     ConditionOperator = "matches" // regex
)

type RuleCondition struct {
	Field    ConditionField    `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value"`
}

// Matches evaluates the condition against msg. Comparisons are case-insensitive.
func (c RuleCondition) Matches(msg *FetchedMessage) bool {
	var candidates []string
	switch c.Field {
	case ConditionFieldFrom:
		candidates = []string{msg.From, msg.FromName}
	case ConditionFieldTo:
		candidates = append(append([]string{}, msg.To...), msg.Cc...)
	case ConditionFieldSubject:
		candidates = []string{msg.Subject}
	case ConditionFieldBody:
		candidates = []string{msg.PlainText()}
	case ConditionFieldDomain:
		if at := strings.LastIndex(msg.From, "@"); at >= 0 {
			candidates = []string{msg.From[at+1:]}
		}
	default:
		return false
	}

	if c.Operator == OperatorNotContains {
		for _, v := range candidates {
			if containsFold(v, c.Value) {
				return false
			}
		}
		return true
	}
	for _, v := range candidates {
		if c.match(v) {
			return true
		}
	}
	return false
}

func (c RuleCondition) match(v string) bool {
	lv, lp := strings.ToLower(v), strings.ToLower(c.Value)
	switch c.Operator {
	case OperatorContains, "":
		return strings.Contains(lv, lp)
	case OperatorEquals:
		return lv == lp
	case OperatorStartsWith:
		return strings.HasPrefix(lv, lp)
	case OperatorEndsWith:
		return strings.HasSuffix(lv, lp)
	case OperatorMatches:
		re, err := regexp.Compile("(?i)" + c.Value)
		return err == nil && re.MatchString(v)
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// MatchesStatic reports whether every static condition matches. A rule without conditions
// never matches statically.
func (r *MailRule) MatchesStatic(msg *FetchedMessage) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Matches(msg) {
			return false
		}
	}
	return true
}

// =============================================================================
// Rule actions
// =============================================================================

type ActionType string

const (
	ActionLabel      ActionType = "label"
	ActionArchive    ActionType = "archive"
	ActionMarkRead   ActionType = "mark_read"
	ActionDraftReply ActionType = "draft_reply"
	ActionRunAgent   ActionType = "run_agent"
)

type RuleAction struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value,omitempty"` // label name, or extra drafting instructions
}

// NeedsAI reports whether the action calls a model.
func (a RuleAction) NeedsAI() bool {
	return a.Type == ActionDraftReply || a.Type == ActionRunAgent
}

// OutgoingDraft is a composed reply stored in the provider's drafts folder.
type OutgoingDraft struct {
	From       string   `json:"from"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`
}

// ReplySubject prefixes subject with "Re: " unless it already has one.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}
