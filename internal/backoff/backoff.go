// Package backoff computes retry timing for the search registry: the
// exponential cooldown between failed attempts, the exhaustion threshold,
// and the long-delay backlog tiers entered after normal retries run out.
//
// All functions are pure given the policy's RNG, which tests pin to a
// fixed source.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default policy values.
const (
	DefaultBaseDelay   = time.Hour
	DefaultMaxDelay    = 24 * time.Hour
	DefaultMultiplier  = 2.0
	DefaultMaxAttempts = 5
)

// Policy controls the normal retry cooldown curve.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	MaxAttempts int

	// Rand supplies jitter; nil uses the shared math/rand source.
	Rand *rand.Rand
}

// DefaultPolicy returns the policy with production defaults and jitter on.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      true,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (p Policy) float() func() float64 {
	if p.Rand != nil {
		return p.Rand.Float64
	}
	return rand.Float64
}

// Delay returns the cooldown before the next attempt is eligible.
// attemptCount is the number of failures so far (>= 1 after the first).
// The curve is min(base * multiplier^max(0, attemptCount-1), max), then
// scaled by a uniform factor in [0.75, 1.25] when jitter is enabled.
func (p Policy) Delay(attemptCount int) time.Duration {
	exp := math.Max(0, float64(attemptCount-1))
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, exp)
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.75 + p.float()()*0.5
	}
	return time.Duration(d)
}

// NextEligible returns now + Delay(attemptCount). The result is always
// strictly after now.
func (p Policy) NextEligible(attemptCount int, now time.Time) time.Time {
	return now.Add(p.Delay(attemptCount))
}

// ShouldExhaust reports whether attemptCount has reached the policy's
// attempt budget.
func (p Policy) ShouldExhaust(attemptCount int) bool {
	return attemptCount >= p.MaxAttempts
}

// BacklogPolicy controls the long-delay retry buckets entered after the
// normal attempt budget is spent. Tier t waits TierDelaysDays[t] days,
// jittered by up to ±12 hours.
type BacklogPolicy struct {
	Enabled        bool
	TierDelaysDays []int
	MaxTier        int

	Rand *rand.Rand
}

// DefaultBacklogPolicy returns the backlog defaults: disabled until
// configured, tiers of 7/14/30 days.
func DefaultBacklogPolicy() BacklogPolicy {
	return BacklogPolicy{
		TierDelaysDays: []int{7, 14, 30},
		MaxTier:        3,
	}
}

func (p BacklogPolicy) float() func() float64 {
	if p.Rand != nil {
		return p.Rand.Float64
	}
	return rand.Float64
}

// NextTier returns the tier entered from currentTier, capped at MaxTier.
func (p BacklogPolicy) NextTier(currentTier int) int {
	next := currentTier + 1
	if next > p.MaxTier {
		next = p.MaxTier
	}
	return next
}

// TierDelay returns the wait for backlog tier (1-based), jittered ±12h.
// Tiers beyond the configured table reuse the last entry.
func (p BacklogPolicy) TierDelay(tier int) time.Duration {
	if len(p.TierDelaysDays) == 0 {
		return 0
	}
	idx := tier - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.TierDelaysDays) {
		idx = len(p.TierDelaysDays) - 1
	}
	d := time.Duration(p.TierDelaysDays[idx]) * 24 * time.Hour
	jitter := time.Duration((p.float()() - 0.5) * float64(24*time.Hour))
	return d + jitter
}

// TierEligible returns now + TierDelay(tier).
func (p BacklogPolicy) TierEligible(tier int, now time.Time) time.Time {
	return now.Add(p.TierDelay(tier))
}
