// Package observability holds process-wide metrics and tracing setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts completed queries by terminal outcome
	// (done, cancelled, llm_error).
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miniagent",
		Name:      "queries_total",
		Help:      "Completed agent queries by outcome.",
	}, []string{"outcome"})

	// QueryIterations observes how many reasoning rounds each query took.
	QueryIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "miniagent",
		Name:      "query_iterations",
		Help:      "Reasoning iterations per query.",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})

	// ToolInvocations counts tool calls by tool name and outcome
	// (ok, error, timeout).
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miniagent",
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by tool and outcome.",
	}, []string{"tool", "outcome"})

	// ToolDuration observes wall time per tool call.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "miniagent",
		Name:      "tool_duration_seconds",
		Help:      "Tool invocation duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	// LLMRequests counts provider round trips by kind (complete, stream)
	// and outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miniagent",
		Name:      "llm_requests_total",
		Help:      "Provider requests by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ActiveStreams tracks currently open SSE chat streams.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "miniagent",
		Name:      "active_streams",
		Help:      "Open chat event streams.",
	})
)
