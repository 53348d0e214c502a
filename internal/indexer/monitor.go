package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/secrets"
	"github.com/engels74/comradarr-sub001/internal/storage"
)

// Defaults for the monitor loop.
const (
	DefaultPollInterval   = 5 * time.Minute
	DefaultStaleThreshold = 10 * time.Minute
)

// managerClient is the slice of Client the monitor uses.
type managerClient interface {
	Indexers(ctx context.Context) ([]Indexer, error)
	Statuses(ctx context.Context) ([]IndexerStatus, error)
}

// Monitor periodically polls every enabled indexer-manager instance and
// refreshes the health cache. Poll failures keep the previous cache; the
// rows go stale instead of disappearing.
type Monitor struct {
	db           *storage.DB
	cipher       *secrets.Cipher
	pollInterval time.Duration
	staleAfter   time.Duration
	logger       *slog.Logger

	// newClient is swapped in tests.
	newClient func(baseURL, apiKey string) managerClient
}

// NewMonitor creates a monitor. Zero intervals take the defaults.
func NewMonitor(db *storage.DB, cipher *secrets.Cipher, pollInterval, staleAfter time.Duration, logger *slog.Logger) *Monitor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleThreshold
	}
	return &Monitor{
		db:           db,
		cipher:       cipher,
		pollInterval: pollInterval,
		staleAfter:   staleAfter,
		logger:       logger,
		newClient: func(baseURL, apiKey string) managerClient {
			return NewClient(baseURL, apiKey, nil)
		},
	}
}

// Run polls immediately, then on every tick until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	m.PollAll(ctx)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PollAll(ctx)
		}
	}
}

// PollAll refreshes the cache for every enabled instance. Per-instance
// failures are logged and skipped.
func (m *Monitor) PollAll(ctx context.Context) {
	instances, err := m.db.ListIndexerInstances(ctx, true)
	if err != nil {
		m.logger.Error("indexer: list instances failed", "error", err)
		return
	}

	for _, inst := range instances {
		if err := m.pollInstance(ctx, inst); err != nil {
			m.logger.Warn("indexer: poll failed, keeping cached health",
				"instance", inst.Name, "error", err)
		}
	}
}

func (m *Monitor) pollInstance(ctx context.Context, inst model.IndexerInstance) error {
	apiKey, err := m.cipher.Decrypt(inst.APIKeyEncrypted)
	if err != nil {
		return fmt.Errorf("decrypt api key: %w", err)
	}
	client := m.newClient(inst.BaseURL, apiKey)

	indexers, err := client.Indexers(ctx)
	if err != nil {
		return fmt.Errorf("fetch indexers: %w", err)
	}
	statuses, err := client.Statuses(ctx)
	if err != nil {
		return fmt.Errorf("fetch statuses: %w", err)
	}

	rows := mergeHealth(indexers, statuses, time.Now().UTC())
	if err := m.db.UpsertIndexerHealth(ctx, inst.ID, rows); err != nil {
		return fmt.Errorf("refresh cache: %w", err)
	}

	m.logger.Debug("indexer: health cache refreshed",
		"instance", inst.Name, "indexers", len(rows))
	return nil
}

// Snapshot returns the cached health rows with staleness resolved against
// the monitor's threshold.
func (m *Monitor) Snapshot(ctx context.Context) ([]model.IndexerHealthSnapshot, error) {
	rows, err := m.db.ListIndexerHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexer: snapshot: %w", err)
	}

	now := time.Now().UTC()
	out := make([]model.IndexerHealthSnapshot, len(rows))
	for i, r := range rows {
		out[i] = model.IndexerHealthSnapshot{
			IndexerHealth: r,
			IsStale:       now.Sub(r.LastUpdated) > m.staleAfter,
		}
	}
	return out, nil
}

// mergeHealth joins the indexer list with the status list. An indexer is
// rate limited while the manager has it disabled into the future.
func mergeHealth(indexers []Indexer, statuses []IndexerStatus, now time.Time) []model.IndexerHealth {
	byIndexer := make(map[int64]IndexerStatus, len(statuses))
	for _, s := range statuses {
		byIndexer[s.IndexerID] = s
	}

	rows := make([]model.IndexerHealth, 0, len(indexers))
	for _, ix := range indexers {
		h := model.IndexerHealth{
			IndexerID:   ix.ID,
			Name:        ix.Name,
			Enabled:     ix.Enable,
			LastUpdated: now,
		}
		if st, ok := byIndexer[ix.ID]; ok {
			h.MostRecentFailure = st.MostRecentFailure
			if st.DisabledTill != nil && st.DisabledTill.After(now) {
				h.IsRateLimited = true
				h.RateLimitExpires = st.DisabledTill
			}
		}
		rows = append(rows, h)
	}
	return rows
}
