package http

import (
	"context"
	"fmt"

	"jenn_worker/core/agent"
	"jenn_worker/core/agent/tools"
	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// AgentRunner runs the business agent over a thread.
type AgentRunner interface {
	Run(ctx context.Context, in agent.RunInput) (*agent.RunResult, error)
}

// ToolResolver builds the tool registry of an email account.
type ToolResolver interface {
	ToolsFor(ctx context.Context, emailAccountID int64) (*tools.Registry, error)
}

// AgentRunReader lists stored run audits.
type AgentRunReader interface {
	ListByAccount(ctx context.Context, emailAccountID int64, limit int64) ([]*domain.AgentRun, error)
}

type AgentHandler struct {
	mailboxes out.MailboxRepository
	agent     AgentRunner
	tools     ToolResolver
	runs      AgentRunReader
}

func NewAgentHandler(mailboxes out.MailboxRepository, runner AgentRunner, resolver ToolResolver) *AgentHandler {
	return &AgentHandler{mailboxes: mailboxes, agent: runner, tools: resolver}
}

// WithRuns enables the run history endpoint.
func (h *AgentHandler) WithRuns(runs AgentRunReader) *AgentHandler {
	h.runs = runs
	return h
}

func (h *AgentHandler) Register(router fiber.Router) {
	router.Post("/agent/run", h.Run)
	if h.runs != nil {
		router.Get("/agent/runs", h.ListRuns)
	}
}

type agentRunRequest struct {
	MailboxID int64                    `json:"mailbox_id"`
	ThreadKey string                   `json:"thread_key"`
	Thread    []*domain.FetchedMessage `json:"thread"`
}

// Run executes the business agent against the posted thread, oldest message first.
// POST /agent/run
func (h *AgentHandler) Run(c *fiber.Ctx) error {
	var req agentRunRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}
	if len(req.Thread) == 0 {
		return AppErrorResponse(c, apperr.InvalidInput("thread", "at least one message is required"))
	}

	mailbox, err := ownedMailbox(c, h.mailboxes, req.MailboxID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if !mailbox.HasAIAccess {
		return AppErrorResponse(c, apperr.Forbidden("AI features are not enabled for this mailbox").WithDetail("mailbox_id", mailbox.ID))
	}

	registry, err := h.tools.ToolsFor(c.UserContext(), mailbox.EmailAccountID)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	email, _ := c.Locals("user_email").(string)
	result, err := h.agent.Run(c.UserContext(), agent.RunInput{
		Account: domain.AccountRef{
			UserID:         mailbox.UserID,
			EmailAccountID: mailbox.EmailAccountID,
			Email:          email,
		},
		ThreadKey: req.ThreadKey,
		Thread:    req.Thread,
		Tools:     registry,
	})
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, result)
}

const maxRunsPage = 100

// ListRuns returns the newest audited runs of the mailbox's email account.
// GET /agent/runs?mailbox_id=1&limit=20
func (h *AgentHandler) ListRuns(c *fiber.Ctx) error {
	mailbox, err := ownedMailbox(c, h.mailboxes, int64(c.QueryInt("mailbox_id")))
	if err != nil {
		return AppErrorResponse(c, err)
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxRunsPage {
		return AppErrorResponse(c, apperr.InvalidInput("limit", fmt.Sprintf("must be between 1 and %d", maxRunsPage)))
	}

	runs, err := h.runs.ListByAccount(c.UserContext(), mailbox.EmailAccountID, int64(limit))
	if err != nil {
		return AppErrorResponse(c, apperr.ExternalError("mongodb", err))
	}
	if runs == nil {
		runs = []*domain.AgentRun{}
	}
	return SuccessResponse(c, runs)
}
