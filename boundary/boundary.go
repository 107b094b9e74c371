// Package boundary wraps every external call — hosting provider, agents,
// persistence — with a tracing span, uniform metrics, error classification,
// and redaction of the logged failure summary. Errors pass through
// unchanged so callers can still branch on them.
package boundary

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c360studio/ralph/classify"
	"github.com/c360studio/ralph/metrics"
	"github.com/c360studio/ralph/redact"
)

const tracerName = "ralph"

// Meta carries the correlation attributes attached to every boundary span.
// Zero fields are omitted from the span.
type Meta struct {
	EventID     string
	RunID       string
	IssueNumber int
	TaskKey     string
}

// Wrapper instruments boundary calls against one metric sink and logger.
type Wrapper struct {
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a Wrapper. A nil logger falls back to slog.Default.
func New(m *metrics.Metrics, logger *slog.Logger) *Wrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper{
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Call runs fn inside a span named orchestrator.<name>. The duration
// histogram is observed on success and failure alike; failures additionally
// increment the error counter and log a redacted summary at warning level
// before the error is re-surfaced.
func Call[T any](ctx context.Context, w *Wrapper, name string, meta Meta, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := w.tracer.Start(ctx, "orchestrator."+name, trace.WithAttributes(spanAttributes(name, meta)...))
	defer span.End()

	start := time.Now()
	value, err := fn(ctx)
	elapsed := float64(time.Since(start).Milliseconds())

	w.metrics.BoundaryDuration.WithLabelValues(name).Observe(elapsed)

	if err != nil {
		category := classify.Classify(err)
		span.SetStatus(codes.Error, string(category))
		span.SetAttributes(attribute.String("error.category", string(category)))

		w.metrics.BoundaryCalls.WithLabelValues(name, "error").Inc()
		w.logger.Warn("boundary call failed",
			"boundary", name,
			"category", category,
			"duration_ms", elapsed,
			"error", redact.Error(err))
		return value, err
	}

	w.metrics.BoundaryCalls.WithLabelValues(name, "success").Inc()
	return value, nil
}

func spanAttributes(name string, meta Meta) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("boundary", name)}
	if meta.EventID != "" {
		attrs = append(attrs, attribute.String("event_id", meta.EventID))
	}
	if meta.RunID != "" {
		attrs = append(attrs, attribute.String("run_id", meta.RunID))
	}
	if meta.IssueNumber != 0 {
		attrs = append(attrs, attribute.Int("issue_number", meta.IssueNumber))
	}
	if meta.TaskKey != "" {
		attrs = append(attrs, attribute.String("task_key", meta.TaskKey))
	}
	return attrs
}
