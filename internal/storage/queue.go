package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// PendingCandidate is a pending registry entry joined with the content
// fields the priority calculator needs: air date (episodes) or Jan 1 of
// the release year (movies), the season number for the specials penalty,
// and prior-download info for the lost-file bonus.
type PendingCandidate struct {
	Entry         model.SearchRegistryEntry
	ContentDate   *time.Time
	SeasonNumber  *int
	WasDownloaded bool
	FileLostAt    *time.Time
}

// SelectPendingNotQueued returns pending registry entries for a connector
// that have no queue row yet, joined with their content scoring fields.
func (db *DB) SelectPendingNotQueued(ctx context.Context, connectorID int64, limit int) ([]PendingCandidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT sr.id, sr.connector_id, sr.content_type, sr.content_id, sr.search_type,
		        sr.state, sr.attempt_count, sr.priority, sr.backlog_tier, sr.season_pack_failed,
		        sr.created_at, sr.updated_at,
		        CASE WHEN sr.content_type = 'episode' THEN e.air_date
		             ELSE make_date(m.year, 1, 1)::timestamptz END AS content_date,
		        e.season_number,
		        COALESCE(e.was_downloaded, m.was_downloaded, false) AS was_downloaded,
		        COALESCE(e.file_lost_at, m.file_lost_at) AS file_lost_at
		 FROM search_registry sr
		 LEFT JOIN episodes e ON sr.content_type = 'episode' AND e.id = sr.content_id
		 LEFT JOIN movies m   ON sr.content_type = 'movie'   AND m.id = sr.content_id
		 WHERE sr.connector_id = $1
		   AND sr.state = 'pending'
		   AND NOT EXISTS (SELECT 1 FROM request_queue rq WHERE rq.search_registry_id = sr.id)
		 ORDER BY sr.created_at ASC
		 LIMIT $2`,
		connectorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select pending: %w", err)
	}
	defer rows.Close()

	var out []PendingCandidate
	for rows.Next() {
		var c PendingCandidate
		if err := rows.Scan(
			&c.Entry.ID, &c.Entry.ConnectorID, &c.Entry.ContentType, &c.Entry.ContentID, &c.Entry.SearchType,
			&c.Entry.State, &c.Entry.AttemptCount, &c.Entry.Priority, &c.Entry.BacklogTier, &c.Entry.SeasonPackFailed,
			&c.Entry.CreatedAt, &c.Entry.UpdatedAt,
			&c.ContentDate, &c.SeasonNumber, &c.WasDownloaded, &c.FileLostAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan pending candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// QueueInsert pairs a registry id with its computed priority.
type QueueInsert struct {
	SearchRegistryID int64
	ConnectorID      int64
	Priority         int
}

// EnqueueBatch marks the given registry entries queued and inserts their
// queue rows in one transaction. The insert is insert-if-not-exists on the
// unique search_registry_id, so repeated invocations are idempotent.
func (db *DB) EnqueueBatch(ctx context.Context, items []QueueInsert, scheduledAt time.Time) error {
	if len(items) == 0 {
		return nil
	}
	return withTxRetry(ctx, func() error {
		return db.enqueueBatchTx(ctx, items, scheduledAt)
	})
}

func (db *DB) enqueueBatchTx(ctx context.Context, items []QueueInsert, scheduledAt time.Time) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		if _, err := tx.Exec(ctx,
			`UPDATE search_registry SET state = 'queued', priority = $2, updated_at = now()
			 WHERE id = $1 AND state = 'pending'`,
			it.SearchRegistryID, it.Priority,
		); err != nil {
			return fmt.Errorf("storage: mark queued %d: %w", it.SearchRegistryID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO request_queue (search_registry_id, connector_id, priority, scheduled_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (search_registry_id) DO NOTHING`,
			it.SearchRegistryID, it.ConnectorID, it.Priority, scheduledAt,
		); err != nil {
			return fmt.Errorf("storage: insert queue row %d: %w", it.SearchRegistryID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit enqueue tx: %w", err)
	}
	return nil
}

// DequeueQueueRows atomically claims up to limit ready queue rows for a
// connector in priority order (ties broken by earlier scheduled_at) and
// deletes them. SKIP LOCKED guarantees concurrent dequeues on the same
// connector return disjoint sets. Registry state stays queued; the caller
// CASes each entry to searching immediately before dispatch.
func (db *DB) DequeueQueueRows(ctx context.Context, connectorID int64, limit int, before time.Time) ([]model.QueuedItem, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin dequeue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT rq.id, rq.search_registry_id, rq.connector_id, rq.priority, rq.scheduled_at,
		        sr.content_type, sr.content_id, sr.search_type
		 FROM request_queue rq
		 JOIN search_registry sr ON sr.id = rq.search_registry_id
		 WHERE rq.connector_id = $1 AND rq.scheduled_at <= $2
		 ORDER BY rq.priority DESC, rq.scheduled_at ASC
		 LIMIT $3
		 FOR UPDATE OF rq SKIP LOCKED`,
		connectorID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select queue rows: %w", err)
	}

	var items []model.QueuedItem
	var ids []int64
	for rows.Next() {
		var it model.QueuedItem
		if err := rows.Scan(
			&it.QueueID, &it.SearchRegistryID, &it.ConnectorID, &it.Priority, &it.ScheduledAt,
			&it.ContentType, &it.ContentID, &it.SearchType,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan queue row: %w", err)
		}
		items = append(items, it)
		ids = append(ids, it.QueueID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate queue rows: %w", err)
	}

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM request_queue WHERE id = ANY($1)`, ids,
		); err != nil {
			return nil, fmt.Errorf("storage: delete claimed queue rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit dequeue tx: %w", err)
	}
	return items, nil
}

// ClearQueue deletes queue rows (optionally scoped to one connector) and
// reverts the matching queued registry entries to pending.
func (db *DB) ClearQueue(ctx context.Context, connectorID *int64) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin clear queue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM request_queue WHERE ($1::bigint IS NULL OR connector_id = $1)`,
		connectorID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: clear queue rows: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE search_registry SET state = 'pending', updated_at = now()
		 WHERE state = 'queued' AND ($1::bigint IS NULL OR connector_id = $1)`,
		connectorID,
	); err != nil {
		return 0, fmt.Errorf("storage: revert queued entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit clear queue tx: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueueDepths returns the number of queue rows per connector, for the
// telemetry gauges.
func (db *DB) QueueDepths(ctx context.Context) (map[int64]int64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT connector_id, COUNT(*) FROM request_queue GROUP BY connector_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: queue depths: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("storage: scan queue depth: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}
