// Package dispatch executes one search command against a backend
// connector: admission check, client construction with a freshly
// decrypted key, the command call itself, and feedback into the
// rate-limit state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub001/internal/apperr"
	"github.com/engels74/comradarr-sub001/internal/connector"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/secrets"
	"github.com/engels74/comradarr-sub001/internal/storage"
	"github.com/engels74/comradarr-sub001/internal/throttle"
)

// Request names one search command. Exactly one of MovieIDs, EpisodeIDs,
// or the Series/Season pair must be set; the populated field selects the
// command.
type Request struct {
	ConnectorID  int64
	MovieIDs     []int64
	EpisodeIDs   []int64
	SeriesID     *int64
	SeasonNumber *int
}

// Result reports one dispatch outcome.
type Result struct {
	Success         bool                  `json:"success"`
	CommandID       int64                 `json:"command_id,omitempty"`
	Error           string                `json:"error,omitempty"`
	Category        model.FailureCategory `json:"category,omitempty"`
	RateLimited     bool                  `json:"rate_limited,omitempty"`
	ConnectorPaused bool                  `json:"connector_paused,omitempty"`
	Skipped         bool                  `json:"skipped,omitempty"`
}

// commandClient is the slice of the connector client the dispatcher uses.
type commandClient interface {
	SendEpisodeSearch(ctx context.Context, episodeIDs []int64) (connector.CommandResult, error)
	SendSeasonSearch(ctx context.Context, seriesID int64, seasonNumber int) (connector.CommandResult, error)
	SendMoviesSearch(ctx context.Context, movieIDs []int64) (connector.CommandResult, error)
}

// HealthAdvisor supplies the indexer-health snapshot consulted before a
// dispatch. Advisory only: a degraded indexer never blocks the send.
type HealthAdvisor interface {
	Snapshot(ctx context.Context) ([]model.IndexerHealthSnapshot, error)
}

// Service dispatches search commands.
type Service struct {
	db       *storage.DB
	throttle *throttle.Service
	cipher   *secrets.Cipher
	health   HealthAdvisor
	logger   *slog.Logger

	// newClient is swapped in tests.
	newClient func(cfg connector.Config) (commandClient, error)
}

// New creates a dispatch service. health may be nil when no indexer
// manager is configured.
func New(db *storage.DB, th *throttle.Service, cipher *secrets.Cipher, health HealthAdvisor, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		throttle: th,
		cipher:   cipher,
		health:   health,
		logger:   logger,
		newClient: func(cfg connector.Config) (commandClient, error) {
			return connector.NewClient(cfg)
		},
	}
}

// Dispatch sends one search command.
func (s *Service) Dispatch(ctx context.Context, req Request) (Result, error) {
	now := time.Now().UTC()

	conn, err := s.db.GetConnector(ctx, req.ConnectorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Error: "connector not found", Category: model.FailureServer}, nil
		}
		return Result{}, fmt.Errorf("dispatch: resolve connector: %w", err)
	}

	decision, err := s.throttle.CanDispatch(ctx, conn, now)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: admission check: %w", err)
	}
	if !decision.Allowed {
		return throttleDenial(decision), nil
	}

	s.logHealthWarnings(ctx, conn)

	apiKey, err := s.cipher.Decrypt(conn.APIKeyEncrypted)
	if err != nil {
		s.logger.Error("dispatch: api key decryption failed", "connector_id", conn.ID, "error", err)
		return Result{Error: "credential decryption failed", Category: model.FailureAuth}, nil
	}

	client, err := s.newClient(connector.Config{
		BaseURL: conn.BaseURL,
		APIKey:  apiKey,
		Type:    conn.Type,
	})
	if err != nil {
		return Result{Error: err.Error(), Category: model.FailureServer}, nil
	}

	cmd, err := s.send(ctx, client, req)
	if err != nil {
		return s.handleSendError(ctx, conn, err)
	}

	if err := s.throttle.RecordRequest(ctx, conn.ID, time.Now().UTC()); err != nil {
		// The search already went out; losing one counter tick is
		// preferable to reporting the dispatch as failed.
		s.logger.Warn("dispatch: record request failed", "connector_id", conn.ID, "error", err)
	}

	s.logger.Info("dispatch: command sent",
		"connector_id", conn.ID, "command_id", cmd.ID, "status", cmd.Status)
	return Result{Success: true, CommandID: cmd.ID}, nil
}

// DispatchBatch sends items in order and stops at the first connector
// pause, marking the remainder skipped so their registry entries can be
// re-queued instead of counted as failures.
func (s *Service) DispatchBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, 0, len(reqs))
	paused := false
	for _, req := range reqs {
		if paused {
			results = append(results, Result{Skipped: true})
			continue
		}
		res, err := s.Dispatch(ctx, req)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.ConnectorPaused {
			paused = true
		}
	}
	return results, nil
}

// throttleDenial folds an admission denial into a Result. Both denial
// reasons count as rate limiting from the caller's perspective. Category
// stays empty on purpose: no request went out, so the item must be
// re-queued rather than charged a failed attempt.
func throttleDenial(d throttle.Decision) Result {
	return Result{
		Error:           "Throttled: " + d.Reason,
		RateLimited:     true,
		ConnectorPaused: d.Reason == throttle.ReasonConnectorPaused,
	}
}

func (s *Service) send(ctx context.Context, client commandClient, req Request) (connector.CommandResult, error) {
	switch {
	case len(req.MovieIDs) > 0:
		return client.SendMoviesSearch(ctx, req.MovieIDs)
	case len(req.EpisodeIDs) > 0:
		return client.SendEpisodeSearch(ctx, req.EpisodeIDs)
	case req.SeriesID != nil && req.SeasonNumber != nil:
		return client.SendSeasonSearch(ctx, *req.SeriesID, *req.SeasonNumber)
	default:
		return connector.CommandResult{}, apperr.New(apperr.CategoryValidation, "dispatch request names no content")
	}
}

func (s *Service) handleSendError(ctx context.Context, conn model.Connector, err error) (Result, error) {
	cat := apperr.CategoryOf(err)
	if cat == apperr.CategoryRateLimit {
		until, perr := s.throttle.HandleRateLimitResponse(ctx, conn, apperr.RetryAfterOf(err), time.Now().UTC())
		if perr != nil {
			return Result{}, fmt.Errorf("dispatch: pause after 429: %w", perr)
		}
		s.logger.Warn("dispatch: connector rate limited", "connector_id", conn.ID, "paused_until", until)
		return Result{
			Error:           err.Error(),
			Category:        model.FailureRateLimit,
			RateLimited:     true,
			ConnectorPaused: true,
		}, nil
	}

	s.logger.Warn("dispatch: command failed", "connector_id", conn.ID, "category", cat, "error", err)
	return Result{Error: err.Error(), Category: failureCategory(cat)}, nil
}

// logHealthWarnings surfaces rate-limited or stale indexer data before a
// dispatch. Never blocks.
func (s *Service) logHealthWarnings(ctx context.Context, conn model.Connector) {
	if s.health == nil {
		return
	}
	snaps, err := s.health.Snapshot(ctx)
	if err != nil {
		s.logger.Debug("dispatch: indexer health snapshot unavailable", "error", err)
		return
	}
	for _, snap := range snaps {
		if snap.IsRateLimited {
			s.logger.Warn("dispatch: indexer currently rate limited",
				"connector_id", conn.ID, "indexer", snap.Name, "expires", snap.RateLimitExpires)
		}
		if snap.IsStale {
			s.logger.Warn("dispatch: indexer health data is stale",
				"connector_id", conn.ID, "indexer", snap.Name, "last_updated", snap.LastUpdated)
		}
	}
}

// failureCategory maps an error category onto the registry's failure
// taxonomy.
func failureCategory(cat apperr.Category) model.FailureCategory {
	switch cat {
	case apperr.CategoryNetwork:
		return model.FailureNetwork
	case apperr.CategoryTimeout:
		return model.FailureTimeout
	case apperr.CategoryRateLimit:
		return model.FailureRateLimit
	case apperr.CategoryAuthentication:
		return model.FailureAuth
	default:
		return model.FailureServer
	}
}
