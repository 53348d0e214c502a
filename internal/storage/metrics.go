package storage

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/engels74/comradarr-sub001/internal/telemetry"
)

// RegisterOrchestratorMetrics exposes orchestration state gauges via
// OTEL: queue depth per connector, registry entries per state, and
// pending notification history rows. Call after telemetry.Init.
func (db *DB) RegisterOrchestratorMetrics() {
	meter := telemetry.Meter("comradarr/orchestrator")

	_, _ = meter.Int64ObservableGauge("comradarr.queue.depth",
		metric.WithDescription("Queued search requests per connector"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			depths, err := db.QueueDepths(ctx)
			if err != nil {
				return err
			}
			for connectorID, n := range depths {
				o.Observe(n, metric.WithAttributes(
					attribute.Int64("connector_id", connectorID),
				))
			}
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("comradarr.registry.entries",
		metric.WithDescription("Search registry entries per state"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			counts, err := db.CountRegistryStates(ctx)
			if err != nil {
				return err
			}
			for state, n := range counts {
				o.Observe(n, metric.WithAttributes(
					attribute.String("state", string(state)),
				))
			}
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("comradarr.notifications.pending",
		metric.WithDescription("Notification history rows awaiting delivery"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := db.CountPendingHistory(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
}
