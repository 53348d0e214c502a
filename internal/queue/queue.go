// Package queue manages the per-connector priority queue between the
// search registry and the dispatcher.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/priority"
	"github.com/engels74/comradarr-sub001/internal/storage"
)

const (
	// DefaultDequeueLimit applies when the caller passes limit <= 0.
	DefaultDequeueLimit = 10
	// DefaultMaxDequeueLimit caps a single dequeue when Options does not
	// set its own cap.
	DefaultMaxDequeueLimit = 100
	// DefaultEnqueueBatchSize bounds one scoring pass over pending entries.
	DefaultEnqueueBatchSize = 1000
)

// Options tunes the service sizing. Zero values fall back to the package
// defaults.
type Options struct {
	// EnqueueBatchSize is how many pending entries one EnqueuePending pass
	// scores and inserts per round trip.
	EnqueueBatchSize int
	// MaxDequeueLimit caps a single dequeue regardless of the request.
	MaxDequeueLimit int
}

// Service enqueues pending registry entries with computed priorities and
// hands work to the dispatcher in priority order.
type Service struct {
	db         *storage.DB
	weights    priority.Weights
	constants  priority.Constants
	batchSize  int
	maxDequeue int
	logger     *slog.Logger
}

// New creates a queue service.
func New(db *storage.DB, weights priority.Weights, constants priority.Constants, opts Options, logger *slog.Logger) *Service {
	if opts.EnqueueBatchSize <= 0 {
		opts.EnqueueBatchSize = DefaultEnqueueBatchSize
	}
	if opts.MaxDequeueLimit <= 0 {
		opts.MaxDequeueLimit = DefaultMaxDequeueLimit
	}
	return &Service{
		db:         db,
		weights:    weights,
		constants:  constants,
		batchSize:  opts.EnqueueBatchSize,
		maxDequeue: opts.MaxDequeueLimit,
		logger:     logger,
	}
}

// EnqueuePending scores pending entries for a connector and inserts their
// queue rows. Entries already queued are skipped by the unique constraint,
// so repeated calls are idempotent. Returns the number of rows enqueued.
func (s *Service) EnqueuePending(ctx context.Context, connectorID int64) (int, error) {
	now := time.Now().UTC()
	total := 0

	for {
		candidates, err := s.db.SelectPendingNotQueued(ctx, connectorID, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("queue: select pending: %w", err)
		}
		if len(candidates) == 0 {
			break
		}

		inserts := make([]storage.QueueInsert, 0, len(candidates))
		for _, c := range candidates {
			res := priority.Calculate(priority.Input{
				SearchType:    c.Entry.SearchType,
				ContentDate:   c.ContentDate,
				DiscoveredAt:  c.Entry.CreatedAt,
				UserPriority:  c.Entry.Priority,
				AttemptCount:  c.Entry.AttemptCount,
				SeasonNumber:  c.SeasonNumber,
				WasDownloaded: c.WasDownloaded,
				FileLostAt:    c.FileLostAt,
			}, s.weights, s.constants, now)
			inserts = append(inserts, storage.QueueInsert{
				SearchRegistryID: c.Entry.ID,
				ConnectorID:      connectorID,
				Priority:         res.Score,
			})
		}

		if err := s.db.EnqueueBatch(ctx, inserts, now); err != nil {
			return total, fmt.Errorf("queue: enqueue batch: %w", err)
		}
		total += len(inserts)

		if len(candidates) < s.batchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Debug("queue: pending entries enqueued", "connector_id", connectorID, "count", total)
	}
	return total, nil
}

// DequeuePriority claims up to limit ready items for a connector in
// priority order. A paused connector yields nothing without touching the
// queue. Concurrent calls return disjoint sets.
func (s *Service) DequeuePriority(ctx context.Context, connectorID int64, limit int) ([]model.QueuedItem, error) {
	conn, err := s.db.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	if conn.QueuePaused {
		return nil, nil
	}

	if limit <= 0 {
		limit = DefaultDequeueLimit
	}
	if limit > s.maxDequeue {
		limit = s.maxDequeue
	}

	items, err := s.db.DequeueQueueRows(ctx, connectorID, limit, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	return items, nil
}

// Pause stops dequeues for a connector. Enqueues continue so the queue
// accumulates while paused.
func (s *Service) Pause(ctx context.Context, connectorID int64) error {
	if err := s.db.SetConnectorQueuePaused(ctx, connectorID, true); err != nil {
		return fmt.Errorf("queue: pause: %w", err)
	}
	s.logger.Info("queue: connector paused", "connector_id", connectorID)
	return nil
}

// Resume re-enables dequeues for a connector.
func (s *Service) Resume(ctx context.Context, connectorID int64) error {
	if err := s.db.SetConnectorQueuePaused(ctx, connectorID, false); err != nil {
		return fmt.Errorf("queue: resume: %w", err)
	}
	s.logger.Info("queue: connector resumed", "connector_id", connectorID)
	return nil
}

// Clear removes queue rows, optionally for one connector, and returns the
// matching registry entries to pending.
func (s *Service) Clear(ctx context.Context, connectorID *int64) (int64, error) {
	n, err := s.db.ClearQueue(ctx, connectorID)
	if err != nil {
		return 0, fmt.Errorf("queue: clear: %w", err)
	}
	s.logger.Info("queue: cleared", "removed", n)
	return n, nil
}

// Depths reports the current queue depth per connector.
func (s *Service) Depths(ctx context.Context) (map[int64]int64, error) {
	depths, err := s.db.QueueDepths(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: depths: %w", err)
	}
	return depths, nil
}
