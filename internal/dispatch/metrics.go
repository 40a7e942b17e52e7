package dispatch

import (
	"context"
	"log/slog"

	"runtimed/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	submittedCounter metric.Int64Counter
	finishedCounter  metric.Int64Counter
	duration         metric.Float64Histogram
}

// newMetrics registers dispatcher instruments on the global meter provider.
// Instrument errors are logged and leave a no-op instrument behind.
func newMetrics(log *slog.Logger) *metrics {
	meter := otel.Meter("runtimed/dispatch")
	m := &metrics{}

	var err error
	if m.submittedCounter, err = meter.Int64Counter("runtimed.executions.submitted",
		metric.WithDescription("Executions accepted by the dispatcher"),
	); err != nil {
		log.Warn("failed to register metric", "name", "runtimed.executions.submitted", "error", err)
	}
	if m.finishedCounter, err = meter.Int64Counter("runtimed.executions.finished",
		metric.WithDescription("Executions that reached a terminal state"),
	); err != nil {
		log.Warn("failed to register metric", "name", "runtimed.executions.finished", "error", err)
	}
	if m.duration, err = meter.Float64Histogram("runtimed.execution.duration",
		metric.WithDescription("Time from start to terminal state"),
		metric.WithUnit("s"),
	); err != nil {
		log.Warn("failed to register metric", "name", "runtimed.execution.duration", "error", err)
	}
	return m
}

func (m *metrics) submitted(ctx context.Context, runtimeID string) {
	if m.submittedCounter == nil {
		return
	}
	m.submittedCounter.Add(ctx, 1)
}

func (m *metrics) finished(ctx context.Context, exec *store.Execution) {
	outcome := metric.WithAttributes(attribute.String("outcome", string(exec.Status)))
	if m.finishedCounter != nil {
		m.finishedCounter.Add(ctx, 1, outcome)
	}
	if m.duration != nil && exec.StartedAt != nil && exec.CompletedAt != nil {
		m.duration.Record(ctx, exec.CompletedAt.Sub(*exec.StartedAt).Seconds(), outcome)
	}
}
