// Package metrics owns the Prometheus series for the orchestrator. A
// Metrics value wraps its own registry so tests and the /metrics endpoint
// see exactly the ralph_* series and nothing else.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Boundary call durations concentrate at the low millisecond end for KV
// access and the multi-second end for LLM calls.
var boundaryBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 15000}

// Whole runs span several agent calls.
var runBuckets = []float64{100, 500, 1000, 5000, 10000, 30000, 120000}

// Metrics is the process-wide metric sink. Emission is side-effect-only;
// control flow never consults it.
type Metrics struct {
	registry *prometheus.Registry

	WorkflowRuns     *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	WebhookEvents    *prometheus.CounterVec
	Retries          *prometheus.CounterVec
	BoundaryCalls    *prometheus.CounterVec
	BoundaryDuration *prometheus.HistogramVec
}

// New creates a Metrics with all series registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WorkflowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ralph_workflow_runs_total",
			Help: "Workflow runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ralph_workflow_run_duration_ms",
			Help:    "End-to-end run handler duration in milliseconds.",
			Buckets: runBuckets,
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ralph_webhook_events_total",
			Help: "Webhook deliveries by event type and handling result.",
		}, []string{"event_type", "result"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ralph_retries_total",
			Help: "Retry-engine retries by operation.",
		}, []string{"operation"}),
		BoundaryCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ralph_orchestration_boundary_calls_total",
			Help: "External boundary calls by boundary and result.",
		}, []string{"boundary", "result"}),
		BoundaryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ralph_orchestration_boundary_duration_ms",
			Help:    "External boundary call duration in milliseconds.",
			Buckets: boundaryBuckets,
		}, []string{"boundary"}),
	}

	m.registry.MustRegister(
		m.WorkflowRuns,
		m.RunDuration,
		m.WebhookEvents,
		m.Retries,
		m.BoundaryCalls,
		m.BoundaryDuration,
	)

	return m
}

// Gatherer exposes the registry for promhttp.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
