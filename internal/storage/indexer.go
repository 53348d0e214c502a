package storage

import (
	"context"
	"fmt"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// CreateIndexerInstance registers an indexer-manager deployment.
func (db *DB) CreateIndexerInstance(ctx context.Context, inst model.IndexerInstance) (model.IndexerInstance, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO indexer_instances (name, base_url, api_key_encrypted, enabled)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		inst.Name, inst.BaseURL, inst.APIKeyEncrypted, inst.Enabled,
	).Scan(&inst.ID)
	if err != nil {
		return model.IndexerInstance{}, fmt.Errorf("storage: create indexer instance: %w", err)
	}
	return inst, nil
}

// ListIndexerInstances returns instances, optionally only enabled ones.
func (db *DB) ListIndexerInstances(ctx context.Context, enabledOnly bool) ([]model.IndexerInstance, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, base_url, api_key_encrypted, enabled
		 FROM indexer_instances
		 WHERE NOT $1 OR enabled
		 ORDER BY id`,
		enabledOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list indexer instances: %w", err)
	}
	defer rows.Close()

	var out []model.IndexerInstance
	for rows.Next() {
		var inst model.IndexerInstance
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.BaseURL, &inst.APIKeyEncrypted, &inst.Enabled); err != nil {
			return nil, fmt.Errorf("storage: scan indexer instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpsertIndexerHealth replaces the cached health rows for one
// indexer-manager instance. Rows for indexers no longer reported are
// removed so the cache mirrors the instance.
func (db *DB) UpsertIndexerHealth(ctx context.Context, instanceID int64, rows []model.IndexerHealth) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin indexer upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.IndexerID
		if _, err := tx.Exec(ctx,
			`INSERT INTO indexer_health_cache (instance_id, indexer_id, name, enabled, is_rate_limited,
			                                   rate_limit_expires_at, most_recent_failure, last_updated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (instance_id, indexer_id) DO UPDATE SET
			     name = EXCLUDED.name,
			     enabled = EXCLUDED.enabled,
			     is_rate_limited = EXCLUDED.is_rate_limited,
			     rate_limit_expires_at = EXCLUDED.rate_limit_expires_at,
			     most_recent_failure = EXCLUDED.most_recent_failure,
			     last_updated = EXCLUDED.last_updated`,
			instanceID, r.IndexerID, r.Name, r.Enabled, r.IsRateLimited,
			r.RateLimitExpires, r.MostRecentFailure, r.LastUpdated,
		); err != nil {
			return fmt.Errorf("storage: upsert indexer %d: %w", r.IndexerID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM indexer_health_cache
		 WHERE instance_id = $1 AND NOT (indexer_id = ANY($2))`,
		instanceID, ids,
	); err != nil {
		return fmt.Errorf("storage: prune indexer cache: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit indexer upsert tx: %w", err)
	}
	return nil
}

// ListIndexerHealth returns all cached indexer health rows.
func (db *DB) ListIndexerHealth(ctx context.Context) ([]model.IndexerHealth, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT instance_id, indexer_id, name, enabled, is_rate_limited,
		        rate_limit_expires_at, most_recent_failure, last_updated
		 FROM indexer_health_cache
		 ORDER BY instance_id, indexer_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list indexer health: %w", err)
	}
	defer rows.Close()

	var out []model.IndexerHealth
	for rows.Next() {
		var h model.IndexerHealth
		if err := rows.Scan(
			&h.InstanceID, &h.IndexerID, &h.Name, &h.Enabled, &h.IsRateLimited,
			&h.RateLimitExpires, &h.MostRecentFailure, &h.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("storage: scan indexer health: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
