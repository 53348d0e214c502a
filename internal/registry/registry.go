// Package registry implements the search-registry state machine.
//
// Each entry moves through pending -> queued -> searching and from there
// to cooldown, a backlog tier, or exhaustion. Only the searching state is
// "owned" by a worker; the queued -> searching claim is a compare-and-swap
// and failure transitions are conditional updates, so concurrent workers
// can never corrupt an entry; one of them simply loses the race.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub001/internal/backoff"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/storage"
)

// Service applies state transitions using the configured backoff policies.
type Service struct {
	db      *storage.DB
	policy  backoff.Policy
	backlog backoff.BacklogPolicy
	logger  *slog.Logger
}

// New creates a registry service.
func New(db *storage.DB, policy backoff.Policy, backlog backoff.BacklogPolicy, logger *slog.Logger) *Service {
	return &Service{db: db, policy: policy, backlog: backlog, logger: logger}
}

// Result reports the outcome of a transition attempt.
type Result struct {
	Success       bool                `json:"success"`
	PreviousState model.RegistryState `json:"previous_state,omitempty"`
	NewState      model.RegistryState `json:"new_state,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// SetSearching claims a queued entry for dispatch. Returns Success=false
// with error "invalid_state" when another worker already claimed it.
func (s *Service) SetSearching(ctx context.Context, id int64) (Result, error) {
	ok, err := s.db.CASSetSearching(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("registry: set searching %d: %w", id, err)
	}
	if !ok {
		return Result{Success: false, Error: "invalid_state"}, nil
	}
	return Result{Success: true, PreviousState: model.StateQueued, NewState: model.StateSearching}, nil
}

// MarkFailed records a failed search attempt for a searching entry.
//
// The attempt counter advances; at the attempt budget the entry either
// exhausts (backlog disabled) or drops into the next backlog tier with the
// counter reset. A season pack that found nothing marks every episode of
// that season so future attempts search individually.
func (s *Service) MarkFailed(ctx context.Context, id int64, category model.FailureCategory, wasSeasonPack bool) (Result, error) {
	entry, err := s.db.GetRegistryEntry(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("registry: mark failed: %w", err)
	}
	if entry.State != model.StateSearching {
		return Result{Success: false, PreviousState: entry.State, Error: "invalid_state"}, nil
	}

	now := time.Now().UTC()
	attempt := entry.AttemptCount + 1

	u := storage.FailUpdate{
		ID:           id,
		PrevAttempts: entry.AttemptCount,
		Category:     category,
	}
	if wasSeasonPack && category == model.FailureNoResults && entry.ContentType == model.ContentEpisode {
		u.PropagateSeasonPack = true
		u.ConnectorID = entry.ConnectorID
		u.EpisodeContentID = entry.ContentID
	}

	switch {
	case !s.policy.ShouldExhaust(attempt):
		next := s.policy.NextEligible(attempt, now)
		u.NewState = model.StateCooldown
		u.NewAttempts = attempt
		u.BacklogTier = entry.BacklogTier
		u.NextEligible = &next

	case s.backlog.Enabled:
		tier := s.backlog.NextTier(entry.BacklogTier)
		next := s.backlog.TierEligible(tier, now)
		u.NewState = model.StateCooldown
		u.NewAttempts = 0
		u.BacklogTier = tier
		u.NextEligible = &next

	default:
		u.NewState = model.StateExhausted
		u.NewAttempts = attempt
		u.BacklogTier = entry.BacklogTier
	}

	ok, err := s.db.ApplyFailure(ctx, u)
	if err != nil {
		return Result{}, fmt.Errorf("registry: mark failed %d: %w", id, err)
	}
	if !ok {
		// Lost the race: a concurrent transition moved the entry first.
		return Result{Success: false, PreviousState: entry.State, Error: "invalid_state"}, nil
	}

	s.logger.Debug("registry: search failed",
		"id", id,
		"category", category,
		"attempt", attempt,
		"new_state", u.NewState,
		"backlog_tier", u.BacklogTier,
	)
	return Result{Success: true, PreviousState: model.StateSearching, NewState: u.NewState}, nil
}

// MarkDispatched records a successful dispatch. Upgrade searches move into
// backlog tier 1 so they re-check for better releases on the long curve;
// gap entries stay searching until the external library sync deletes them.
func (s *Service) MarkDispatched(ctx context.Context, id int64, searchType model.SearchType) (Result, error) {
	now := time.Now().UTC()

	if searchType == model.SearchUpgrade && s.backlog.Enabled {
		next := s.backlog.TierEligible(1, now)
		ok, err := s.db.MarkDispatchedUpgrade(ctx, id, 1, next)
		if err != nil {
			return Result{}, fmt.Errorf("registry: mark dispatched %d: %w", id, err)
		}
		if !ok {
			return Result{Success: false, Error: "invalid_state"}, nil
		}
		return Result{Success: true, PreviousState: model.StateSearching, NewState: model.StateCooldown}, nil
	}

	if err := s.db.TouchDispatchedGap(ctx, id); err != nil {
		return Result{}, fmt.Errorf("registry: mark dispatched %d: %w", id, err)
	}
	return Result{Success: true, PreviousState: model.StateSearching, NewState: model.StateSearching}, nil
}

// MarkExhausted manually retires an entry from searching or cooldown.
func (s *Service) MarkExhausted(ctx context.Context, id int64) (Result, error) {
	ok, err := s.db.MarkExhausted(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("registry: mark exhausted %d: %w", id, err)
	}
	if !ok {
		return Result{Success: false, Error: "invalid_state"}, nil
	}
	return Result{Success: true, NewState: model.StateExhausted}, nil
}

// ReenqueueReport summarizes one cooldown sweep.
type ReenqueueReport struct {
	Requeued     int64 `json:"requeued"`
	StillCooling int64 `json:"still_cooling"`
}

// ReenqueueEligible returns cooled-down entries to pending, optionally
// scoped to one connector.
func (s *Service) ReenqueueEligible(ctx context.Context, connectorID *int64) (ReenqueueReport, error) {
	requeued, cooling, err := s.db.ReenqueueEligible(ctx, connectorID, time.Now().UTC())
	if err != nil {
		return ReenqueueReport{}, fmt.Errorf("registry: reenqueue eligible: %w", err)
	}
	if requeued > 0 {
		s.logger.Info("registry: cooldown entries re-enqueued", "requeued", requeued, "still_cooling", cooling)
	}
	return ReenqueueReport{Requeued: requeued, StillCooling: cooling}, nil
}

// CleanupOrphans reverts searching entries stranded longer than maxAge
// (crash between claim and result) back to queued and restores their
// queue rows.
func (s *Service) CleanupOrphans(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.db.CleanupOrphanedSearching(ctx, maxAge)
	if err != nil {
		return 0, fmt.Errorf("registry: cleanup orphans: %w", err)
	}
	if n > 0 {
		s.logger.Warn("registry: orphaned searching entries recovered", "count", n, "max_age", maxAge)
	}
	return n, nil
}
