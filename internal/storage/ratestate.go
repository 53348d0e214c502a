package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// GetRateState retrieves the admission-control state for a connector.
func (db *DB) GetRateState(ctx context.Context, connectorID int64) (model.ConnectorRateState, error) {
	var s model.ConnectorRateState
	err := db.pool.QueryRow(ctx,
		`SELECT connector_id, paused_until, last_request_at, requests_this_minute, minute_window_start
		 FROM connector_rate_state WHERE connector_id = $1`,
		connectorID,
	).Scan(&s.ConnectorID, &s.PausedUntil, &s.LastRequestAt, &s.RequestsThisMinute, &s.MinuteWindowStart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConnectorRateState{}, fmt.Errorf("storage: rate state for connector %d: %w", connectorID, ErrNotFound)
		}
		return model.ConnectorRateState{}, fmt.Errorf("storage: get rate state: %w", err)
	}
	return s, nil
}

// RecordRequest increments the connector's minute-window counter, rolling
// the window when 60 seconds have elapsed. Single-statement so concurrent
// dispatchers cannot lose increments.
func (db *DB) RecordRequest(ctx context.Context, connectorID int64, now time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE connector_rate_state
		 SET requests_this_minute = CASE
		         WHEN $2 - minute_window_start >= interval '60 seconds' THEN 1
		         ELSE requests_this_minute + 1
		     END,
		     minute_window_start = CASE
		         WHEN $2 - minute_window_start >= interval '60 seconds' THEN $2
		         ELSE minute_window_start
		     END,
		     last_request_at = $2
		 WHERE connector_id = $1`,
		connectorID, now,
	)
	if err != nil {
		return fmt.Errorf("storage: record request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: rate state for connector %d: %w", connectorID, ErrNotFound)
	}
	return nil
}

// SetPausedUntil pauses all dispatching to a connector until the given
// time. Used after a 429 response or an explicit admin pause.
func (db *DB) SetPausedUntil(ctx context.Context, connectorID int64, until time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE connector_rate_state SET paused_until = $2 WHERE connector_id = $1`,
		connectorID, until,
	)
	if err != nil {
		return fmt.Errorf("storage: set paused until: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: rate state for connector %d: %w", connectorID, ErrNotFound)
	}
	return nil
}

// ClearPause removes a connector's dispatch pause.
func (db *DB) ClearPause(ctx context.Context, connectorID int64) error {
	if _, err := db.pool.Exec(ctx,
		`UPDATE connector_rate_state SET paused_until = NULL WHERE connector_id = $1`,
		connectorID,
	); err != nil {
		return fmt.Errorf("storage: clear pause: %w", err)
	}
	return nil
}
