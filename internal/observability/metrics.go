package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's prometheus instruments: tool execution
// outcomes and latency, compression passes, memory-guard crossings, and
// MCP server health. A nil *Metrics is valid everywhere; every method
// no-ops on it, so instrumentation stays optional.
type Metrics struct {
	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec

	compressionPasses *prometheus.CounterVec
	compressionFreed  prometheus.Histogram

	memGuardCrossings *prometheus.CounterVec

	mcpServerUp   *prometheus.GaugeVec
	mcpRestarts   *prometheus.CounterVec
	mcpCallErrors *prometheus.CounterVec
}

// NewMetrics registers the runtime's instruments on reg (use
// prometheus.NewRegistry() in tests for isolation; pass
// prometheus.DefaultRegisterer in the binary).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_executions_total",
			Help: "Tool executions by tool name and outcome (ok, error, timeout).",
		}, []string{"tool", "outcome"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_tool_duration_seconds",
			Help:    "Wall time of tool executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		compressionPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_compression_passes_total",
			Help: "Context compression passes by strategy.",
		}, []string{"strategy"}),
		compressionFreed: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_compression_tokens_freed",
			Help:    "Tokens removed per compression pass.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		memGuardCrossings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_memguard_crossings_total",
			Help: "Memory-guard threshold crossings by level (soft, hard, critical).",
		}, []string{"level"}),
		mcpServerUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentcore_mcp_server_up",
			Help: "1 when the MCP server is connected, 0 otherwise.",
		}, []string{"server"}),
		mcpRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_mcp_restarts_total",
			Help: "Auto-restart attempts per MCP server.",
		}, []string{"server"}),
		mcpCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_mcp_call_errors_total",
			Help: "Failed MCP tool calls by server.",
		}, []string{"server"}),
	}
}

// ObserveToolExecution records one tool execution's outcome and duration.
func (m *Metrics) ObserveToolExecution(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveCompression records one compression pass.
func (m *Metrics) ObserveCompression(strategy string, tokensFreed int) {
	if m == nil {
		return
	}
	m.compressionPasses.WithLabelValues(strategy).Inc()
	if tokensFreed > 0 {
		m.compressionFreed.Observe(float64(tokensFreed))
	}
}

// ObserveMemGuardCrossing records a threshold crossing.
func (m *Metrics) ObserveMemGuardCrossing(level string) {
	if m == nil {
		return
	}
	m.memGuardCrossings.WithLabelValues(level).Inc()
}

// SetMCPServerUp records a server's connection state.
func (m *Metrics) SetMCPServerUp(server string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	m.mcpServerUp.WithLabelValues(server).Set(v)
}

// ObserveMCPRestart records one auto-restart attempt.
func (m *Metrics) ObserveMCPRestart(server string) {
	if m == nil {
		return
	}
	m.mcpRestarts.WithLabelValues(server).Inc()
}

// ObserveMCPCallError records a failed MCP tool call.
func (m *Metrics) ObserveMCPCallError(server string) {
	if m == nil {
		return
	}
	m.mcpCallErrors.WithLabelValues(server).Inc()
}
