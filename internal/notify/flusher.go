package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/storage"
)

// DefaultFlushInterval is how often deferred notifications are revisited.
const DefaultFlushInterval = time.Minute

// Flusher periodically delivers deferred notifications: batched entries
// whose window has elapsed and quiet-hours entries once the window ends.
type Flusher struct {
	db         *storage.DB
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
}

// NewFlusher creates a flusher. interval <= 0 takes the default.
func NewFlusher(db *storage.DB, dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Flusher{db: db, dispatcher: dispatcher, interval: interval, logger: logger}
}

// Run flushes on every tick until ctx is canceled.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.FlushAll(ctx)
		}
	}
}

// FlushAll processes every channel with deferred entries. Channels still
// inside quiet hours are left alone.
func (f *Flusher) FlushAll(ctx context.Context) {
	channels, err := f.db.ListChannels(ctx)
	if err != nil {
		f.logger.Error("notify: flush list channels failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, ch := range channels {
		if !ch.Enabled || InQuietHours(ch, now) {
			continue
		}

		cutoff := now
		if ch.BatchingEnabled {
			// A batched entry only flushes once its window has elapsed.
			cutoff = now.Add(-time.Duration(ch.BatchingWindowSecond) * time.Second)
		}

		if err := f.flushChannel(ctx, ch, cutoff); err != nil {
			f.logger.Warn("notify: channel flush failed", "channel", ch.Name, "error", err)
		}
	}
}

// flushChannel groups the channel's due pending entries by event type and
// sends one payload per group; the whole group transitions together under
// a shared batch id.
func (f *Flusher) flushChannel(ctx context.Context, ch model.NotificationChannel, cutoff time.Time) error {
	entries, err := f.db.ListPendingForChannel(ctx, ch.ID, cutoff)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	groups := make(map[model.EventType][]model.NotificationHistoryEntry)
	var order []model.EventType
	for _, e := range entries {
		if _, seen := groups[e.EventType]; !seen {
			order = append(order, e.EventType)
		}
		groups[e.EventType] = append(groups[e.EventType], e)
	}

	now := time.Now().UTC()
	for _, eventType := range order {
		group := groups[eventType]

		var payload Payload
		if len(group) == 1 {
			payload = BuildPayload(eventType, group[0].EventData, now)
		} else {
			payload = BuildDigest(eventType, group, now)
		}

		result := f.dispatcher.send(ctx, ch, payload)

		ids := make([]uuid.UUID, len(group))
		for i, e := range group {
			ids[i] = e.ID
		}
		batchID := uuid.New()

		status := model.HistorySent
		var errMsg *string
		if !result.Success {
			status = model.HistoryFailed
			errMsg = &result.Error
		}
		if err := f.db.CompleteBatch(ctx, ids, batchID, status, result.SentAt, errMsg); err != nil {
			return err
		}

		f.logger.Info("notify: flushed deferred notifications",
			"channel", ch.Name, "event", eventType, "entries", len(group), "success", result.Success)
	}
	return nil
}
