// Package ratelimit enforces per-key request budgets on the inbound ops
// API using a fixed one-minute window.
//
// The in-process MemoryLimiter is sufficient for a single orchestrator
// instance; the Limiter interface is the seam for a shared store if the
// ops API is ever load-balanced.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ResetInSeconds returns whole seconds until the window resets, minimum 1.
func (r Result) ResetInSeconds() int {
	s := int(time.Until(r.ResetAt).Seconds())
	if s < 1 {
		s = 1
	}
	return s
}

// FormatHeaders returns the standard X-RateLimit response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.Itoa(r.ResetInSeconds()),
	}
}

// Limiter decides whether a request identified by key should proceed.
// limit is the key's requests-per-minute budget; implementations must be
// safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) Result

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}
