package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// CreateAPIKey inserts an ops-API key (the key itself is stored as an
// Argon2id hash; Prefix allows lookup before the expensive verify).
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey) (model.APIKey, error) {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, prefix, key_hash, label, rate_limit, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Prefix, key.KeyHash, key.Label, key.RateLimit, key.CreatedAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}
	return key, nil
}

// GetAPIKeyByPrefix looks up a single active key by prefix.
func (db *DB) GetAPIKeyByPrefix(ctx context.Context, prefix string) (model.APIKey, error) {
	var k model.APIKey
	err := db.pool.QueryRow(ctx,
		`SELECT id, prefix, key_hash, label, rate_limit, created_at, revoked_at
		 FROM api_keys
		 WHERE prefix = $1 AND revoked_at IS NULL
		 LIMIT 1`,
		prefix,
	).Scan(&k.ID, &k.Prefix, &k.KeyHash, &k.Label, &k.RateLimit, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key by prefix: %w", err)
	}
	return k, nil
}

// RevokeAPIKey sets revoked_at on a key.
func (db *DB) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountAPIKeys returns the number of active keys. Used to decide whether
// the bootstrap key seed is needed.
func (db *DB) CountAPIKeys(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE revoked_at IS NULL`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count api keys: %w", err)
	}
	return n, nil
}
