// Package sweep runs the orchestration tick: move pending registry
// entries into the queue, claim them in priority order, dispatch the
// searches, and feed the outcomes back into the state machine.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub001/internal/batching"
	"github.com/engels74/comradarr-sub001/internal/dispatch"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/notify"
	"github.com/engels74/comradarr-sub001/internal/queue"
	"github.com/engels74/comradarr-sub001/internal/registry"
	"github.com/engels74/comradarr-sub001/internal/storage"
)

// Loop defaults.
const (
	DefaultInterval          = 15 * time.Minute
	DefaultReenqueueInterval = 5 * time.Minute
	DefaultOrphanInterval    = 10 * time.Minute
	DefaultOrphanMaxAge      = 30 * time.Minute
)

// Report summarizes one full sweep.
type Report struct {
	Connectors int           `json:"connectors"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// Sweeper coordinates the periodic search sweeps and the recovery loops.
type Sweeper struct {
	db         *storage.DB
	queue      *queue.Service
	registry   *registry.Service
	dispatcher *dispatch.Service
	notifier   *notify.Dispatcher
	thresholds batching.Thresholds
	logger     *slog.Logger

	interval          time.Duration
	reenqueueInterval time.Duration
	orphanInterval    time.Duration
	orphanMaxAge      time.Duration
	dequeueLimit      int
}

// Config wires a Sweeper. Zero durations take the defaults.
type Config struct {
	Interval          time.Duration
	ReenqueueInterval time.Duration
	OrphanInterval    time.Duration
	OrphanMaxAge      time.Duration
	DequeueLimit      int
	Thresholds        batching.Thresholds
}

// New creates a sweeper.
func New(db *storage.DB, q *queue.Service, reg *registry.Service, disp *dispatch.Service, notifier *notify.Dispatcher, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReenqueueInterval <= 0 {
		cfg.ReenqueueInterval = DefaultReenqueueInterval
	}
	if cfg.OrphanInterval <= 0 {
		cfg.OrphanInterval = DefaultOrphanInterval
	}
	if cfg.OrphanMaxAge <= 0 {
		cfg.OrphanMaxAge = DefaultOrphanMaxAge
	}
	if cfg.DequeueLimit <= 0 {
		cfg.DequeueLimit = queue.DefaultDequeueLimit
	}
	return &Sweeper{
		db:                db,
		queue:             q,
		registry:          reg,
		dispatcher:        disp,
		notifier:          notifier,
		thresholds:        cfg.Thresholds,
		logger:            logger,
		interval:          cfg.Interval,
		reenqueueInterval: cfg.ReenqueueInterval,
		orphanInterval:    cfg.OrphanInterval,
		orphanMaxAge:      cfg.OrphanMaxAge,
		dequeueLimit:      cfg.DequeueLimit,
	}
}

// Run sweeps on every tick until ctx is canceled. The sweep in progress
// finishes its current item before returning, so a graceful shutdown
// drains in-flight dispatches.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep: run failed", "error", err)
			}
		}
	}
}

// RunReenqueue periodically returns cooled-down entries to pending.
func (s *Sweeper) RunReenqueue(ctx context.Context) {
	ticker := time.NewTicker(s.reenqueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.registry.ReenqueueEligible(ctx, nil); err != nil {
				s.logger.Error("sweep: reenqueue failed", "error", err)
			}
		}
	}
}

// RunOrphanCleanup periodically recovers entries stranded in searching.
func (s *Sweeper) RunOrphanCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.orphanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.registry.CleanupOrphans(ctx, s.orphanMaxAge); err != nil {
				s.logger.Error("sweep: orphan cleanup failed", "error", err)
			}
		}
	}
}

// SweepAll runs one full sweep across every connector.
func (s *Sweeper) SweepAll(ctx context.Context) (Report, error) {
	start := time.Now()

	connectors, err := s.db.ListConnectors(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("sweep: list connectors: %w", err)
	}

	report := Report{Connectors: len(connectors)}
	s.emit(ctx, model.EventSweepStarted, map[string]any{"connector_count": len(connectors)})

	for _, conn := range connectors {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		dispatched, failed, skipped, err := s.sweepConnector(ctx, conn)
		report.Dispatched += dispatched
		report.Failed += failed
		report.Skipped += skipped
		if err != nil {
			s.logger.Error("sweep: connector sweep failed", "connector", conn.Name, "error", err)
		}
	}

	report.Duration = time.Since(start)
	s.emit(ctx, model.EventSweepCompleted, map[string]any{
		"connector_count": len(connectors),
		"dispatched":      report.Dispatched,
		"failed":          report.Failed,
		"skipped":         report.Skipped,
		"duration":        report.Duration.Round(time.Millisecond).String(),
	})
	s.logger.Info("sweep: completed",
		"connectors", report.Connectors,
		"dispatched", report.Dispatched,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration)
	return report, nil
}

func (s *Sweeper) sweepConnector(ctx context.Context, conn model.Connector) (dispatched, failed, skipped int, err error) {
	if _, err := s.queue.EnqueuePending(ctx, conn.ID); err != nil {
		return 0, 0, 0, err
	}

	items, err := s.queue.DequeuePriority(ctx, conn.ID, s.dequeueLimit)
	if err != nil {
		return 0, 0, 0, err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return dispatched, failed, skipped, err
		}

		claim, err := s.registry.SetSearching(ctx, item.SearchRegistryID)
		if err != nil {
			return dispatched, failed, skipped, err
		}
		if !claim.Success {
			// Another worker claimed it after our dequeue.
			skipped++
			continue
		}

		outcome := s.dispatchItem(ctx, conn, item)
		switch outcome {
		case itemDispatched:
			dispatched++
		case itemFailed:
			failed++
		case itemSkipped:
			skipped++
		case itemPaused:
			skipped++
			// Connector paused mid-sweep; the rest of this batch would
			// only be declined too.
			s.requeueRemaining(ctx, items, item.SearchRegistryID)
			return dispatched, failed, skipped + remainingAfter(items, item.SearchRegistryID), nil
		}
	}
	return dispatched, failed, skipped, nil
}

type itemOutcome int

const (
	itemDispatched itemOutcome = iota
	itemFailed
	itemSkipped
	itemPaused
)

func (s *Sweeper) dispatchItem(ctx context.Context, conn model.Connector, item model.QueuedItem) itemOutcome {
	req, wasSeasonPack, err := s.buildRequest(ctx, conn, item)
	if err != nil {
		s.logger.Error("sweep: build request failed", "registry_id", item.SearchRegistryID, "error", err)
		s.failItem(ctx, conn, item, model.FailureServer, false)
		return itemFailed
	}

	res, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		s.logger.Error("sweep: dispatch failed", "registry_id", item.SearchRegistryID, "error", err)
		s.requeueItem(ctx, item.SearchRegistryID)
		return itemSkipped
	}

	switch {
	case res.Success:
		if _, err := s.registry.MarkDispatched(ctx, item.SearchRegistryID, item.SearchType); err != nil {
			s.logger.Error("sweep: mark dispatched failed", "registry_id", item.SearchRegistryID, "error", err)
		}
		s.emit(ctx, model.EventSearchSuccess, map[string]any{
			"connector":    conn.Name,
			"search_type":  string(item.SearchType),
			"content_type": string(item.ContentType),
			"content_id":   item.ContentID,
			"command_id":   res.CommandID,
		})
		return itemDispatched

	case res.ConnectorPaused:
		// Either a 429 or an admin pause. The entry itself did not fail,
		// so put it back and stop draining this connector.
		s.requeueItem(ctx, item.SearchRegistryID)
		return itemPaused

	case res.Category != "":
		s.failItem(ctx, conn, item, res.Category, wasSeasonPack)
		return itemFailed

	default:
		// Throttled before any request went out.
		s.requeueItem(ctx, item.SearchRegistryID)
		return itemSkipped
	}
}

// buildRequest maps a queued item to a dispatch request. Episodes consult
// the season batcher unless a season pack already came back empty for
// this entry.
func (s *Sweeper) buildRequest(ctx context.Context, conn model.Connector, item model.QueuedItem) (dispatch.Request, bool, error) {
	req := dispatch.Request{ConnectorID: conn.ID}

	if item.ContentType == model.ContentMovie {
		req.MovieIDs = []int64{item.ContentID}
		return req, false, nil
	}

	entry, err := s.db.GetRegistryEntry(ctx, item.SearchRegistryID)
	if err != nil {
		return dispatch.Request{}, false, err
	}

	if !entry.SeasonPackFailed && item.SearchType == model.SearchGap {
		meta, err := s.db.GetEpisodeMeta(ctx, item.ContentID)
		if err != nil {
			return dispatch.Request{}, false, err
		}
		stats, err := s.db.GetSeasonStatistics(ctx, conn.ID, meta.SeriesID, meta.SeasonNumber, time.Now().UTC())
		if err != nil {
			return dispatch.Request{}, false, err
		}
		if batching.Decide(stats, s.thresholds).Command == batching.SeasonSearch {
			req.SeriesID = &meta.SeriesID
			req.SeasonNumber = &meta.SeasonNumber
			return req, true, nil
		}
	}

	req.EpisodeIDs = []int64{item.ContentID}
	return req, false, nil
}

func (s *Sweeper) failItem(ctx context.Context, conn model.Connector, item model.QueuedItem, category model.FailureCategory, wasSeasonPack bool) {
	res, err := s.registry.MarkFailed(ctx, item.SearchRegistryID, category, wasSeasonPack)
	if err != nil {
		s.logger.Error("sweep: mark failed errored", "registry_id", item.SearchRegistryID, "error", err)
		return
	}
	if res.Success && res.NewState == model.StateExhausted {
		s.emit(ctx, model.EventSearchExhausted, map[string]any{
			"connector":        conn.Name,
			"content_type":     string(item.ContentType),
			"content_id":       item.ContentID,
			"failure_category": string(category),
		})
	}
}

func (s *Sweeper) requeueItem(ctx context.Context, registryID int64) {
	if err := s.db.RequeueSearching(ctx, registryID); err != nil {
		// Orphan cleanup will recover the entry later.
		s.logger.Warn("sweep: requeue failed", "registry_id", registryID, "error", err)
	}
}

// requeueRemaining puts back every claimed-but-unsent item after the one
// that hit the connector pause.
func (s *Sweeper) requeueRemaining(ctx context.Context, items []model.QueuedItem, afterRegistryID int64) {
	seen := false
	for _, it := range items {
		if it.SearchRegistryID == afterRegistryID {
			seen = true
			continue
		}
		if !seen {
			continue
		}
		s.requeueItem(ctx, it.SearchRegistryID)
	}
}

func remainingAfter(items []model.QueuedItem, registryID int64) int {
	for i, it := range items {
		if it.SearchRegistryID == registryID {
			return len(items) - i - 1
		}
	}
	return 0
}

func (s *Sweeper) emit(ctx context.Context, event model.EventType, data map[string]any) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Dispatch(ctx, event, data); err != nil {
		s.logger.Warn("sweep: notification dispatch failed", "event", event, "error", err)
	}
}
