package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jenn"

// =============================================================================
// LLM orchestration
// =============================================================================

var (
	// LLMAttempts counts every model invocation by outcome (success, advance, retry, fatal, timeout).
	LLMAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_attempts_total",
		Help:      "Model invocations by provider, model and outcome.",
	}, []string{"provider", "model", "outcome"})

	// LLMFallbacks counts generations served by a non-primary target.
	LLMFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_fallbacks_total",
		Help:      "Generations served after advancing past the primary model.",
	}, []string{"label"})

	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_total",
		Help:      "Tokens billed by provider and model.",
	}, []string{"provider", "model", "kind"})
)

// =============================================================================
// Mail sync
// =============================================================================

var (
	SyncMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_messages_total",
		Help:      "Messages handed to the rule pipeline by outcome.",
	}, []string{"outcome"})

	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_passes_total",
		Help:      "Sync passes by trigger and result.",
	}, []string{"trigger", "result"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_pass_duration_seconds",
		Help:      "Duration of one mailbox sync pass.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"trigger"})
)

// =============================================================================
// Agent / bridge
// =============================================================================

var (
	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_runs_total",
		Help:      "Business agent runs by verdict.",
	}, []string{"verdict"})

	AgentToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_tool_calls_total",
		Help:      "Tool invocations by tool and success.",
	}, []string{"tool", "success"})

	BridgeOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bridge_orders_total",
		Help:      "Order bridge results by status.",
	}, []string{"status"})
)
