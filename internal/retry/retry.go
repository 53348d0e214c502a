// Package retry wraps outbound calls with jittered exponential backoff.
//
// Unlike the storage-layer retry (which keys off Postgres error codes),
// this wrapper trusts the error's own classification: only failures whose
// apperr category is retryable are attempted again, and rate-limit errors
// that advertise a delay are slept for exactly that long.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/engels74/comradarr-sub001/internal/apperr"
)

// Config controls the retry schedule.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool

	// Rand supplies jitter; nil uses the shared math/rand source.
	Rand *rand.Rand
}

// DefaultConfig is the general-purpose schedule: 3 retries, 1s base,
// capped at 30s.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

func (c Config) float() func() float64 {
	if c.Rand != nil {
		return c.Rand.Float64
	}
	return rand.Float64
}

// BackoffDelay computes the sleep before retry number attempt (0-based):
// min(base * multiplier^attempt, max), jittered by a uniform factor in
// [0.75, 1.25] and floored to a whole millisecond.
func BackoffDelay(attempt int, cfg Config) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		d *= 0.75 + cfg.float()()*0.5
	}
	return time.Duration(d) / time.Millisecond * time.Millisecond
}

// Do executes fn, retrying on retryable errors up to cfg.MaxRetries
// additional attempts. Rate-limit errors with an advertised Retry-After
// sleep for that duration instead of the backoff curve. The context
// cancels waiting between attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !apperr.IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return err
		}

		delay := BackoffDelay(attempt, cfg)
		if ra := apperr.RetryAfterOf(err); ra > 0 {
			delay = ra
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
