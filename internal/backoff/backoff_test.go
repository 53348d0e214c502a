package backoff

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noJitterPolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      false,
		MaxAttempts: 5,
	}
}

func TestDelaySeriesNoJitter(t *testing.T) {
	p := noJitterPolicy()
	want := []time.Duration{
		1000 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, p.Delay(attempt), "attempt %d", attempt)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	p := noJitterPolicy()
	assert.Equal(t, 30*time.Second, p.Delay(100))
}

func TestDelayJitterBounds(t *testing.T) {
	p := noJitterPolicy()
	p.Jitter = true
	p.Rand = rand.New(rand.NewPCG(1, 2))

	base := 4 * time.Second
	for range 200 {
		d := p.Delay(3)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75))
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25))
	}
}

func TestNextEligibleStrictlyAfterNow(t *testing.T) {
	p := noJitterPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, p.NextEligible(1, now).After(now))
}

func TestShouldExhaust(t *testing.T) {
	p := noJitterPolicy()
	assert.False(t, p.ShouldExhaust(4))
	assert.True(t, p.ShouldExhaust(5))
	assert.True(t, p.ShouldExhaust(6))
}

func TestBacklogNextTierCaps(t *testing.T) {
	p := DefaultBacklogPolicy()
	assert.Equal(t, 1, p.NextTier(0))
	assert.Equal(t, 2, p.NextTier(1))
	assert.Equal(t, 3, p.NextTier(2))
	assert.Equal(t, 3, p.NextTier(3))
	assert.Equal(t, 3, p.NextTier(99))
}

func TestBacklogTierDelayUsesLastKnownTier(t *testing.T) {
	p := BacklogPolicy{TierDelaysDays: []int{7, 14, 30}, MaxTier: 3}
	p.Rand = rand.New(rand.NewPCG(3, 4))

	// Tier 1 centers on 7 days, jittered +/- 12h.
	d := p.TierDelay(1)
	assert.GreaterOrEqual(t, d, 7*24*time.Hour-12*time.Hour)
	assert.LessOrEqual(t, d, 7*24*time.Hour+12*time.Hour)

	// Tiers past the configured list reuse the last delay.
	d = p.TierDelay(9)
	assert.GreaterOrEqual(t, d, 30*24*time.Hour-12*time.Hour)
	assert.LessOrEqual(t, d, 30*24*time.Hour+12*time.Hour)
}

func TestBacklogTierEligibleInFuture(t *testing.T) {
	p := DefaultBacklogPolicy()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	el := p.TierEligible(1, now)
	require.True(t, el.After(now))
	assert.True(t, el.After(now.Add(6*24*time.Hour)))
}
