package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished agent runs by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desktop_assist_runs_total",
			Help: "Total number of agent runs by outcome",
		},
		[]string{"outcome"},
	)

	// RunDuration tracks agent run duration in seconds.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desktop_assist_run_duration_seconds",
			Help:    "Agent run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"outcome"},
	)

	// RunsInProgress tracks the number of agent runs currently executing.
	RunsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "desktop_assist_runs_in_progress",
			Help: "Number of agent runs currently in progress",
		},
	)

	// ToolCallsTotal counts tool invocations observed in the agent stream.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desktop_assist_tool_calls_total",
			Help: "Total number of tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	// ToolCallDuration tracks the time between a tool call and its result.
	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desktop_assist_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	// StreamLinesDropped counts agent output lines that were not valid events.
	StreamLinesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "desktop_assist_stream_lines_dropped_total",
			Help: "Agent output lines skipped because they were not structured events",
		},
	)

	// TeardownFailures counts process-tree kills that could not be confirmed.
	TeardownFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "desktop_assist_teardown_failures_total",
			Help: "Process tree teardowns where the forceful kill failed",
		},
	)

	// WebhookDeliveries counts webhook delivery attempts.
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desktop_assist_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"status"},
	)

	// HTTPRequests counts total HTTP requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desktop_assist_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration tracks HTTP request duration.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desktop_assist_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

// WriteTextfile writes the default registry in text exposition format,
// for pickup by a node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
