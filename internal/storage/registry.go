package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub001/internal/model"
)

const registryCols = `id, connector_id, content_type, content_id, search_type, state,
	 attempt_count, priority, next_eligible, last_searched, failure_category,
	 backlog_tier, season_pack_failed, created_at, updated_at`

func scanRegistryEntry(row pgx.Row) (model.SearchRegistryEntry, error) {
	var e model.SearchRegistryEntry
	err := row.Scan(
		&e.ID, &e.ConnectorID, &e.ContentType, &e.ContentID, &e.SearchType, &e.State,
		&e.AttemptCount, &e.Priority, &e.NextEligible, &e.LastSearched, &e.FailureCategory,
		&e.BacklogTier, &e.SeasonPackFailed, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

// GetRegistryEntry retrieves a registry entry by id.
func (db *DB) GetRegistryEntry(ctx context.Context, id int64) (model.SearchRegistryEntry, error) {
	e, err := scanRegistryEntry(db.pool.QueryRow(ctx,
		`SELECT `+registryCols+` FROM search_registry WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SearchRegistryEntry{}, fmt.Errorf("storage: registry entry %d: %w", id, ErrNotFound)
		}
		return model.SearchRegistryEntry{}, fmt.Errorf("storage: get registry entry: %w", err)
	}
	return e, nil
}

// CreateRegistryEntry inserts a registry entry in state pending. Normally
// the discovery scan populates the registry; this exists for the ops API
// and tests.
func (db *DB) CreateRegistryEntry(ctx context.Context, e model.SearchRegistryEntry) (model.SearchRegistryEntry, error) {
	if e.State == "" {
		e.State = model.StatePending
	}
	now := time.Now().UTC()
	err := db.pool.QueryRow(ctx,
		`INSERT INTO search_registry (connector_id, content_type, content_id, search_type, state,
		                              attempt_count, priority, next_eligible, backlog_tier,
		                              season_pack_failed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		 RETURNING id`,
		e.ConnectorID, e.ContentType, e.ContentID, e.SearchType, e.State,
		e.AttemptCount, e.Priority, e.NextEligible, e.BacklogTier,
		e.SeasonPackFailed, now,
	).Scan(&e.ID)
	if err != nil {
		return model.SearchRegistryEntry{}, fmt.Errorf("storage: create registry entry: %w", err)
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	return e, nil
}

// CASSetSearching performs the queued -> searching transition as a
// compare-and-swap. Returns false when another worker already claimed the
// entry (or it was never queued).
func (db *DB) CASSetSearching(ctx context.Context, id int64) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE search_registry SET state = 'searching', updated_at = now()
		 WHERE id = $1 AND state = 'queued'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("storage: set searching: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailUpdate carries the precomputed outcome of a failed search. The
// update is conditional on (state=searching, attempt_count=PrevAttempts)
// so a concurrent transition invalidates it instead of corrupting state.
type FailUpdate struct {
	ID           int64
	PrevAttempts int
	NewState     model.RegistryState
	NewAttempts  int
	BacklogTier  int
	NextEligible *time.Time
	Category     model.FailureCategory

	// PropagateSeasonPack marks season_pack_failed on every episode
	// registry row sharing the failed entry's season.
	PropagateSeasonPack bool
	ConnectorID         int64
	EpisodeContentID    int64
}

// ApplyFailure applies a FailUpdate transactionally. Returns false when
// the CAS found the row no longer in the expected state. Season-pack
// propagation touches many rows, so transient conflicts are retried.
func (db *DB) ApplyFailure(ctx context.Context, u FailUpdate) (bool, error) {
	var applied bool
	err := withTxRetry(ctx, func() error {
		var err error
		applied, err = db.applyFailureTx(ctx, u)
		return err
	})
	return applied, err
}

func (db *DB) applyFailureTx(ctx context.Context, u FailUpdate) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE search_registry
		 SET state = $2, attempt_count = $3, backlog_tier = $4, next_eligible = $5,
		     failure_category = $6, last_searched = now(), updated_at = now()
		 WHERE id = $1 AND state = 'searching' AND attempt_count = $7`,
		u.ID, u.NewState, u.NewAttempts, u.BacklogTier, u.NextEligible, u.Category, u.PrevAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("storage: apply failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if u.PropagateSeasonPack {
		// A failed season pack means every episode of that season should
		// fall back to individual searches.
		if _, err := tx.Exec(ctx,
			`UPDATE search_registry sr
			 SET season_pack_failed = true, updated_at = now()
			 FROM episodes e
			 WHERE sr.content_type = 'episode'
			   AND sr.connector_id = $1
			   AND e.id = sr.content_id
			   AND (e.series_id, e.season_number) = (
			       SELECT series_id, season_number FROM episodes WHERE id = $2
			   )`,
			u.ConnectorID, u.EpisodeContentID,
		); err != nil {
			return false, fmt.Errorf("storage: propagate season pack failure: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit fail tx: %w", err)
	}
	return true, nil
}

// MarkDispatchedUpgrade moves a searching upgrade entry into its first
// backlog tier after a successful dispatch. CAS on state=searching.
func (db *DB) MarkDispatchedUpgrade(ctx context.Context, id int64, tier int, nextEligible time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE search_registry
		 SET state = 'cooldown', backlog_tier = $2, attempt_count = 0, next_eligible = $3,
		     failure_category = NULL, last_searched = now(), updated_at = now()
		 WHERE id = $1 AND state = 'searching'`,
		id, tier, nextEligible,
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark dispatched upgrade: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchDispatchedGap records the dispatch time of a gap search. The entry
// stays in searching; the external library sync deletes it once the
// content lands, and orphan cleanup re-queues it otherwise.
func (db *DB) TouchDispatchedGap(ctx context.Context, id int64) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE search_registry SET last_searched = now(), updated_at = now()
		 WHERE id = $1 AND state = 'searching'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("storage: touch dispatched gap: %w", err)
	}
	return nil
}

// MarkExhausted forces an entry into the exhausted terminal state. Allowed
// from searching or cooldown (manual operation).
func (db *DB) MarkExhausted(ctx context.Context, id int64) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE search_registry
		 SET state = 'exhausted', next_eligible = NULL, updated_at = now()
		 WHERE id = $1 AND state IN ('searching', 'cooldown')`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark exhausted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReenqueueEligible flips every cooldown row whose next_eligible has
// passed back to pending, optionally scoped to one connector. Returns the
// number re-enqueued and the number still cooling.
func (db *DB) ReenqueueEligible(ctx context.Context, connectorID *int64, now time.Time) (requeued, cooling int64, err error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE search_registry
		 SET state = 'pending', next_eligible = NULL, updated_at = now()
		 WHERE state = 'cooldown' AND next_eligible <= $1
		   AND ($2::bigint IS NULL OR connector_id = $2)`,
		now, connectorID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: reenqueue eligible: %w", err)
	}
	requeued = tag.RowsAffected()

	err = db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM search_registry
		 WHERE state = 'cooldown' AND ($1::bigint IS NULL OR connector_id = $1)`,
		connectorID,
	).Scan(&cooling)
	if err != nil {
		return requeued, 0, fmt.Errorf("storage: count cooling: %w", err)
	}
	return requeued, cooling, nil
}

// CleanupOrphanedSearching reverts searching rows untouched for longer
// than maxAge back to queued and re-inserts their queue rows. Recovers
// entries stranded by a crash between claim and dispatch result.
func (db *DB) CleanupOrphanedSearching(ctx context.Context, maxAge time.Duration) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin orphan cleanup tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`UPDATE search_registry
		 SET state = 'queued', updated_at = now()
		 WHERE state = 'searching' AND updated_at < now() - $1::interval
		 RETURNING id, connector_id, priority`,
		maxAge.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: revert orphaned searching: %w", err)
	}

	type orphan struct {
		id, connectorID int64
		priority        int
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.id, &o.connectorID, &o.priority); err != nil {
			rows.Close()
			return 0, fmt.Errorf("storage: scan orphan: %w", err)
		}
		orphans = append(orphans, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("storage: iterate orphans: %w", err)
	}

	for _, o := range orphans {
		if _, err := tx.Exec(ctx,
			`INSERT INTO request_queue (search_registry_id, connector_id, priority, scheduled_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (search_registry_id) DO NOTHING`,
			o.id, o.connectorID, o.priority,
		); err != nil {
			return 0, fmt.Errorf("storage: requeue orphan %d: %w", o.id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit orphan cleanup tx: %w", err)
	}
	return int64(len(orphans)), nil
}

// DeleteRegistryEntry removes an entry and its queue row. Used when the
// content reaches the desired quality (external sync signal).
func (db *DB) DeleteRegistryEntry(ctx context.Context, id int64) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete registry tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM request_queue WHERE search_registry_id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete queue row: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM search_registry WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete registry entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: registry entry %d: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// CountRegistryStates returns the number of entries per state, for the
// telemetry gauges.
func (db *DB) CountRegistryStates(ctx context.Context) (map[model.RegistryState]int64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM search_registry GROUP BY state`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: count registry states: %w", err)
	}
	defer rows.Close()

	out := make(map[model.RegistryState]int64)
	for rows.Next() {
		var s model.RegistryState
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("storage: scan state count: %w", err)
		}
		out[s] = n
	}
	return out, rows.Err()
}
