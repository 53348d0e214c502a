package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub001/internal/model"
)

const historyCols = `id, channel_id, event_type, event_data, status, sent_at, error_message, batch_id, created_at`

func scanHistoryEntry(row pgx.Row) (model.NotificationHistoryEntry, error) {
	var h model.NotificationHistoryEntry
	var dataJSON []byte
	err := row.Scan(
		&h.ID, &h.ChannelID, &h.EventType, &dataJSON, &h.Status,
		&h.SentAt, &h.ErrorMessage, &h.BatchID, &h.CreatedAt,
	)
	if err != nil {
		return model.NotificationHistoryEntry{}, err
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &h.EventData); err != nil {
			return model.NotificationHistoryEntry{}, fmt.Errorf("decode event data: %w", err)
		}
	}
	return h, nil
}

// CreateHistoryEntry appends a delivery record. Entries arrive in
// created_at order; batching later groups them by event type.
func (db *DB) CreateHistoryEntry(ctx context.Context, h model.NotificationHistoryEntry) (model.NotificationHistoryEntry, error) {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	dataJSON, err := json.Marshal(h.EventData)
	if err != nil {
		return model.NotificationHistoryEntry{}, fmt.Errorf("storage: encode event data: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO notification_history (id, channel_id, event_type, event_data, status,
		                                   sent_at, error_message, batch_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.ChannelID, h.EventType, dataJSON, h.Status,
		h.SentAt, h.ErrorMessage, h.BatchID, h.CreatedAt,
	)
	if err != nil {
		return model.NotificationHistoryEntry{}, fmt.Errorf("storage: create history entry: %w", err)
	}
	return h, nil
}

// UpdateHistoryResult records the outcome of a delivery attempt.
func (db *DB) UpdateHistoryResult(ctx context.Context, id uuid.UUID, status model.HistoryStatus, sentAt *time.Time, errMsg *string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notification_history SET status = $2, sent_at = $3, error_message = $4 WHERE id = $1`,
		id, status, sentAt, errMsg,
	)
	if err != nil {
		return fmt.Errorf("storage: update history result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: history entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListPendingForChannel returns pending history entries for a channel
// created before the cutoff, oldest first. Used by the batch flusher.
func (db *DB) ListPendingForChannel(ctx context.Context, channelID uuid.UUID, cutoff time.Time) ([]model.NotificationHistoryEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+historyCols+` FROM notification_history
		 WHERE channel_id = $1 AND status = 'pending' AND created_at <= $2
		 ORDER BY created_at ASC`,
		channelID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending history: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationHistoryEntry
	for rows.Next() {
		h, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan history entry: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CompleteBatch transitions every entry in ids together: shared batch id,
// same status, same outcome. A batched entry stays pending until its
// digest is delivered, then the whole group moves at once.
func (db *DB) CompleteBatch(ctx context.Context, ids []uuid.UUID, batchID uuid.UUID, status model.HistoryStatus, sentAt *time.Time, errMsg *string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.pool.Exec(ctx,
		`UPDATE notification_history
		 SET status = $2, batch_id = $3, sent_at = $4, error_message = $5
		 WHERE id = ANY($1)`,
		ids, status, batchID, sentAt, errMsg,
	); err != nil {
		return fmt.Errorf("storage: complete batch: %w", err)
	}
	return nil
}

// ListHistory returns recent history entries, newest first, optionally
// filtered by channel.
func (db *DB) ListHistory(ctx context.Context, channelID *uuid.UUID, limit int) ([]model.NotificationHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+historyCols+` FROM notification_history
		 WHERE ($1::uuid IS NULL OR channel_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list history: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationHistoryEntry
	for rows.Next() {
		h, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan history entry: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountPendingHistory returns the number of pending entries, for the
// telemetry gauge.
func (db *DB) CountPendingHistory(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_history WHERE status = 'pending'`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count pending history: %w", err)
	}
	return n, nil
}
