package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub001/internal/model"
)

const channelCols = `id, name, type, config, sensitive_encrypted, enabled, enabled_events,
	 batching_enabled, batching_window_seconds,
	 quiet_hours_enabled, quiet_hours_start, quiet_hours_end, quiet_hours_timezone,
	 created_at, updated_at`

func scanChannel(row pgx.Row) (model.NotificationChannel, error) {
	var c model.NotificationChannel
	var configJSON []byte
	var events []string
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &configJSON, &c.SensitiveEncrypted, &c.Enabled, &events,
		&c.BatchingEnabled, &c.BatchingWindowSecond,
		&c.QuietHoursEnabled, &c.QuietHoursStart, &c.QuietHoursEnd, &c.QuietHoursTimezone,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.NotificationChannel{}, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &c.Config); err != nil {
			return model.NotificationChannel{}, fmt.Errorf("decode channel config: %w", err)
		}
	}
	c.EnabledEvents = make([]model.EventType, len(events))
	for i, e := range events {
		c.EnabledEvents[i] = model.EventType(e)
	}
	return c, nil
}

// CreateChannel inserts a notification channel.
func (db *DB) CreateChannel(ctx context.Context, c model.NotificationChannel) (model.NotificationChannel, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return model.NotificationChannel{}, fmt.Errorf("storage: encode channel config: %w", err)
	}
	events := make([]string, len(c.EnabledEvents))
	for i, e := range c.EnabledEvents {
		events[i] = string(e)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO notification_channels (id, name, type, config, sensitive_encrypted, enabled,
		                                    enabled_events, batching_enabled, batching_window_seconds,
		                                    quiet_hours_enabled, quiet_hours_start, quiet_hours_end,
		                                    quiet_hours_timezone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		c.ID, c.Name, c.Type, configJSON, c.SensitiveEncrypted, c.Enabled,
		events, c.BatchingEnabled, c.BatchingWindowSecond,
		c.QuietHoursEnabled, c.QuietHoursStart, c.QuietHoursEnd, c.QuietHoursTimezone, now,
	)
	if err != nil {
		return model.NotificationChannel{}, fmt.Errorf("storage: create channel: %w", err)
	}
	return c, nil
}

// GetChannel retrieves a channel by id.
func (db *DB) GetChannel(ctx context.Context, id uuid.UUID) (model.NotificationChannel, error) {
	c, err := scanChannel(db.pool.QueryRow(ctx,
		`SELECT `+channelCols+` FROM notification_channels WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NotificationChannel{}, fmt.Errorf("storage: channel %s: %w", id, ErrNotFound)
		}
		return model.NotificationChannel{}, fmt.Errorf("storage: get channel: %w", err)
	}
	return c, nil
}

// ListChannels returns all channels ordered by name.
func (db *DB) ListChannels(ctx context.Context) ([]model.NotificationChannel, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+channelCols+` FROM notification_channels ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list channels: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListEnabledChannelsForEvent returns enabled channels subscribed to the
// given event type.
func (db *DB) ListEnabledChannelsForEvent(ctx context.Context, event model.EventType) ([]model.NotificationChannel, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+channelCols+` FROM notification_channels
		 WHERE enabled = true AND $1 = ANY(enabled_events)
		 ORDER BY name ASC`,
		string(event),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list channels for event: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListBatchingChannels returns enabled channels with batching on.
func (db *DB) ListBatchingChannels(ctx context.Context) ([]model.NotificationChannel, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+channelCols+` FROM notification_channels
		 WHERE enabled = true AND batching_enabled = true`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list batching channels: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChannel replaces a channel's mutable fields.
func (db *DB) UpdateChannel(ctx context.Context, c model.NotificationChannel) error {
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("storage: encode channel config: %w", err)
	}
	events := make([]string, len(c.EnabledEvents))
	for i, e := range c.EnabledEvents {
		events[i] = string(e)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE notification_channels
		 SET name = $2, config = $3, sensitive_encrypted = $4, enabled = $5, enabled_events = $6,
		     batching_enabled = $7, batching_window_seconds = $8,
		     quiet_hours_enabled = $9, quiet_hours_start = $10, quiet_hours_end = $11,
		     quiet_hours_timezone = $12, updated_at = now()
		 WHERE id = $1`,
		c.ID, c.Name, configJSON, c.SensitiveEncrypted, c.Enabled, events,
		c.BatchingEnabled, c.BatchingWindowSecond,
		c.QuietHoursEnabled, c.QuietHoursStart, c.QuietHoursEnd, c.QuietHoursTimezone,
	)
	if err != nil {
		return fmt.Errorf("storage: update channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: channel %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

// DeleteChannel removes a channel and its history.
func (db *DB) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete channel tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM notification_history WHERE channel_id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete channel history: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM notification_channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: channel %s: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}
