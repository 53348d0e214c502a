// Package throttle gates outbound dispatch per connector: an admin or
// 429-induced pause, then the connector's requests-per-minute budget.
// State lives in connector_rate_state so every process instance sees the
// same window.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/storage"
)

// Deny reasons returned in Decision.Reason.
const (
	ReasonConnectorPaused = "connector_paused"
	ReasonRateLimited     = "rate_limited"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int64  `json:"retry_after_ms,omitempty"`
}

// Service performs admission checks and records outcomes.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a throttle service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CanDispatch decides whether one request may go to the connector now.
// Pause wins over the minute budget; a connector with no rate state row
// (legacy rows predating the state table) is treated as unconstrained.
func (s *Service) CanDispatch(ctx context.Context, conn model.Connector, now time.Time) (Decision, error) {
	state, err := s.db.GetRateState(ctx, conn.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Decision{Allowed: true}, nil
		}
		return Decision{}, fmt.Errorf("throttle: can dispatch: %w", err)
	}

	if state.PausedUntil != nil && state.PausedUntil.After(now) {
		return Decision{
			Allowed:    false,
			Reason:     ReasonConnectorPaused,
			RetryAfter: state.PausedUntil.Sub(now).Milliseconds(),
		}, nil
	}

	if conn.RequestsPerMinute <= 0 {
		return Decision{Allowed: true}, nil
	}

	windowEnd := state.MinuteWindowStart.Add(time.Minute)
	if now.Before(windowEnd) && state.RequestsThisMinute >= conn.RequestsPerMinute {
		return Decision{
			Allowed:    false,
			Reason:     ReasonRateLimited,
			RetryAfter: windowEnd.Sub(now).Milliseconds(),
		}, nil
	}
	return Decision{Allowed: true}, nil
}

// RecordRequest counts one dispatched request against the connector's
// minute window.
func (s *Service) RecordRequest(ctx context.Context, connectorID int64, now time.Time) error {
	if err := s.db.RecordRequest(ctx, connectorID, now); err != nil {
		return fmt.Errorf("throttle: record request: %w", err)
	}
	return nil
}

// HandleRateLimitResponse pauses a connector after it answered 429. The
// pause is the longest of the server's Retry-After, the connector's
// configured pause, and one second.
func (s *Service) HandleRateLimitResponse(ctx context.Context, conn model.Connector, retryAfter time.Duration, now time.Time) (time.Time, error) {
	pause := time.Duration(conn.RateLimitPauseSecond) * time.Second
	if retryAfter > pause {
		pause = retryAfter
	}
	if pause < time.Second {
		pause = time.Second
	}

	until := now.Add(pause)
	if err := s.db.SetPausedUntil(ctx, conn.ID, until); err != nil {
		return time.Time{}, fmt.Errorf("throttle: handle rate limit: %w", err)
	}
	s.logger.Warn("throttle: connector paused after 429",
		"connector_id", conn.ID, "pause", pause, "until", until)
	return until, nil
}

// ClearPause lifts a connector's dispatch pause early.
func (s *Service) ClearPause(ctx context.Context, connectorID int64) error {
	if err := s.db.ClearPause(ctx, connectorID); err != nil {
		return fmt.Errorf("throttle: clear pause: %w", err)
	}
	return nil
}
