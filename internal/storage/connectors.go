package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub001/internal/model"
)

const connectorCols = `id, name, type, base_url, api_key_encrypted, health_status, queue_paused,
	 requests_per_minute, rate_limit_pause_seconds, created_at, updated_at`

func scanConnector(row pgx.Row) (model.Connector, error) {
	var c model.Connector
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.BaseURL, &c.APIKeyEncrypted, &c.HealthStatus, &c.QueuePaused,
		&c.RequestsPerMinute, &c.RateLimitPauseSecond, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// CreateConnector inserts a connector along with its rate-limit state row.
func (db *DB) CreateConnector(ctx context.Context, c model.Connector) (model.Connector, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Connector{}, fmt.Errorf("storage: begin create connector tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	err = tx.QueryRow(ctx,
		`INSERT INTO connectors (name, type, base_url, api_key_encrypted, health_status, queue_paused,
		                         requests_per_minute, rate_limit_pause_seconds, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING id`,
		c.Name, c.Type, c.BaseURL, c.APIKeyEncrypted, c.HealthStatus, c.QueuePaused,
		c.RequestsPerMinute, c.RateLimitPauseSecond, now,
	).Scan(&c.ID)
	if err != nil {
		return model.Connector{}, fmt.Errorf("storage: create connector: %w", err)
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	if _, err := tx.Exec(ctx,
		`INSERT INTO connector_rate_state (connector_id, requests_this_minute, minute_window_start)
		 VALUES ($1, 0, $2)`,
		c.ID, now,
	); err != nil {
		return model.Connector{}, fmt.Errorf("storage: create connector rate state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Connector{}, fmt.Errorf("storage: commit create connector tx: %w", err)
	}
	return c, nil
}

// GetConnector retrieves a connector by id.
func (db *DB) GetConnector(ctx context.Context, id int64) (model.Connector, error) {
	c, err := scanConnector(db.pool.QueryRow(ctx,
		`SELECT `+connectorCols+` FROM connectors WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Connector{}, fmt.Errorf("storage: connector %d: %w", id, ErrNotFound)
		}
		return model.Connector{}, fmt.Errorf("storage: get connector: %w", err)
	}
	return c, nil
}

// ListConnectors returns all connectors ordered by name.
func (db *DB) ListConnectors(ctx context.Context) ([]model.Connector, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+connectorCols+` FROM connectors ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list connectors: %w", err)
	}
	defer rows.Close()

	var out []model.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan connector: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetConnectorQueuePaused toggles the connector's queue pause flag.
func (db *DB) SetConnectorQueuePaused(ctx context.Context, id int64, paused bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE connectors SET queue_paused = $2, updated_at = now() WHERE id = $1`,
		id, paused,
	)
	if err != nil {
		return fmt.Errorf("storage: set connector queue paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: connector %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetConnectorHealth updates the connector's health status and returns the
// previous status so callers can emit a change event when it differs.
func (db *DB) SetConnectorHealth(ctx context.Context, id int64, status model.HealthStatus) (model.HealthStatus, error) {
	var previous model.HealthStatus
	err := db.pool.QueryRow(ctx,
		`UPDATE connectors c SET health_status = $2, updated_at = now()
		 FROM (SELECT health_status FROM connectors WHERE id = $1) old
		 WHERE c.id = $1
		 RETURNING old.health_status`,
		id, status,
	).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("storage: connector %d: %w", id, ErrNotFound)
		}
		return "", fmt.Errorf("storage: set connector health: %w", err)
	}
	return previous, nil
}

// DeleteConnector removes a connector and tears down its registry, queue
// and rate-limit rows in one transaction.
func (db *DB) DeleteConnector(ctx context.Context, id int64) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete connector tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, q := range []string{
		`DELETE FROM request_queue WHERE connector_id = $1`,
		`DELETE FROM search_registry WHERE connector_id = $1`,
		`DELETE FROM connector_rate_state WHERE connector_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return fmt.Errorf("storage: delete connector dependents: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete connector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: connector %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit delete connector tx: %w", err)
	}
	return nil
}
