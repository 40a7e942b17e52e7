package daemon

import (
	"context"

	"runtimed/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func (d *Daemon) registerGauges() error {
	meter := otel.Meter("runtimed/daemon")

	live, err := meter.Int64ObservableGauge("runtimed.runtimes.live",
		metric.WithDescription("Runtimes that are not dead"),
	)
	if err != nil {
		return err
	}
	queued, err := meter.Int64ObservableGauge("runtimed.executions.queued",
		metric.WithDescription("Executions waiting for their runtime"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		var liveCount, queuedCount int64
		for _, snap := range d.registry.List() {
			if snap.Status != store.RuntimeStatusDead {
				liveCount++
			}
			queuedCount += int64(snap.QueueDepth)
		}
		o.ObserveInt64(live, liveCount)
		o.ObserveInt64(queued, queuedCount)
		return nil
	}, live, queued)
	return err
}
