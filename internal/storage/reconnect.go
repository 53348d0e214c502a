package storage

import (
	"context"
	"fmt"
	"time"
)

// ReconnectState is the probe-backoff record for one connector.
type ReconnectState struct {
	ConnectorID         int64
	ConsecutiveFailures int
	NextProbeAt         *time.Time
	LastError           *string
}

// GetReconnectStates returns the probe state for every connector that has
// one. Connectors without a row have never failed a probe.
func (db *DB) GetReconnectStates(ctx context.Context) (map[int64]ReconnectState, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT connector_id, consecutive_failures, next_probe_at, last_error
		 FROM reconnect_state`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get reconnect states: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]ReconnectState)
	for rows.Next() {
		var s ReconnectState
		if err := rows.Scan(&s.ConnectorID, &s.ConsecutiveFailures, &s.NextProbeAt, &s.LastError); err != nil {
			return nil, fmt.Errorf("storage: scan reconnect state: %w", err)
		}
		out[s.ConnectorID] = s
	}
	return out, rows.Err()
}

// RecordProbeFailure bumps the failure streak and schedules the next
// probe. Returns the new streak length.
func (db *DB) RecordProbeFailure(ctx context.Context, connectorID int64, nextProbe time.Time, lastError string) (int, error) {
	var failures int
	err := db.pool.QueryRow(ctx,
		`INSERT INTO reconnect_state (connector_id, consecutive_failures, next_probe_at, last_error)
		 VALUES ($1, 1, $2, $3)
		 ON CONFLICT (connector_id) DO UPDATE SET
		     consecutive_failures = reconnect_state.consecutive_failures + 1,
		     next_probe_at = EXCLUDED.next_probe_at,
		     last_error = EXCLUDED.last_error
		 RETURNING consecutive_failures`,
		connectorID, nextProbe, lastError,
	).Scan(&failures)
	if err != nil {
		return 0, fmt.Errorf("storage: record probe failure: %w", err)
	}
	return failures, nil
}

// ClearProbeFailures resets the streak after a successful probe.
func (db *DB) ClearProbeFailures(ctx context.Context, connectorID int64) error {
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM reconnect_state WHERE connector_id = $1`,
		connectorID,
	); err != nil {
		return fmt.Errorf("storage: clear probe failures: %w", err)
	}
	return nil
}
