// Package metrics is the in-process Prometheus instrumentation for the
// executor and tool-dispatch path. There is no HTTP server in this
// process (spec's non-goals exclude multi-process/server operation), so
// nothing is ever scraped remotely: the registry exists so `copilot
// doctor --metrics` can dump current counters for a running session's own
// diagnosis, the same metric surface a server deployment would expose.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide instrumentation handle, built once in
// buildRuntime and threaded into the executor.
type Metrics struct {
	// LLMRequestDuration measures provider round-trip latency.
	// Labels: provider, model, status (success|error)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption by provider/model/type.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by outcome.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// AgentRunsTotal counts agent executor runs by agent name and outcome.
	// Labels: agent, status (completed|failed|paused)
	AgentRunsTotal *prometheus.CounterVec

	// ContextWindowUsed tracks prompt size per turn.
	// Labels: provider, model
	ContextWindowUsed *prometheus.HistogramVec
}

// New registers every metric against the provided registerer (typically
// prometheus.DefaultRegisterer). Safe to call once per process.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_llm_request_duration_seconds",
				Help:    "Duration of provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_tool_executions_total",
				Help: "Total tool executions by tool name and outcome",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		AgentRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_agent_runs_total",
				Help: "Total agent executor runs by agent name and outcome",
			},
			[]string{"agent", "status"},
		),
		ContextWindowUsed: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_context_window_tokens",
				Help:    "Prompt size in tokens per turn by provider and model",
				Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 50},
			},
			[]string{"provider", "model"},
		),
	}
}

// RecordToolExecution records one tool dispatch outcome and latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordAgentRun records one executor run's terminal status.
func (m *Metrics) RecordAgentRun(agentName, status string) {
	if m == nil {
		return
	}
	m.AgentRunsTotal.WithLabelValues(agentName, status).Inc()
}

// RecordLLMRequest records one provider round trip.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(provider, model, status).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}
