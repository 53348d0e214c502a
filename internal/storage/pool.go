// Package storage provides the PostgreSQL persistence layer for the
// orchestrator: connectors, the search registry, the request queue,
// rate-limit state, notification channels and history, and the indexer
// health cache. All mutations of registry, queue, rate and history rows go
// through this package; the database is the source of truth shared by
// concurrent workers.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/engels74/comradarr-sub001/internal/telemetry"
)

// DB wraps a pgxpool.Pool with the query methods for all tables.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// RegisterPoolMetrics exposes connection pool gauges via OTEL. Call after
// telemetry.Init so the observations land on the real meter provider.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("comradarr/storage")

	_, _ = meter.Int64ObservableGauge("comradarr.db.pool.total_conns",
		metric.WithDescription("Total connections in the pgx pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().TotalConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("comradarr.db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pgx pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().IdleConns()))
			return nil
		}),
	)
}
