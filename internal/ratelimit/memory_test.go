package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, now *time.Time) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter()
	m.now = func() time.Time { return *now }
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

func TestMemoryLimiterAllowWithinBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := m.Allow(ctx, "key-a", 5)
		assert.True(t, res.Allowed, "request %d should pass", i)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 4-i, res.Remaining)
	}
}

func TestMemoryLimiterDenyOverBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Allow(ctx, "key-a", 3)
	}
	res := m.Allow(ctx, "key-a", 3)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

func TestMemoryLimiterWindowRolls(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestLimiter(t, &now)
	ctx := context.Background()

	m.Allow(ctx, "key-a", 1)
	assert.False(t, m.Allow(ctx, "key-a", 1).Allowed)

	now = now.Add(61 * time.Second)
	res := m.Allow(ctx, "key-a", 1)
	assert.True(t, res.Allowed, "new window should admit again")
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

func TestMemoryLimiterKeysIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestLimiter(t, &now)
	ctx := context.Background()

	m.Allow(ctx, "key-a", 1)
	assert.False(t, m.Allow(ctx, "key-a", 1).Allowed)
	assert.True(t, m.Allow(ctx, "key-b", 1).Allowed, "key-b has its own window")
}

func TestMemoryLimiterEvictsStaleWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestLimiter(t, &now)
	ctx := context.Background()

	m.Allow(ctx, "key-a", 10)
	now = now.Add(staleThreshold + time.Minute)
	m.evictStale()

	m.mu.Lock()
	_, ok := m.windows["key-a"]
	m.mu.Unlock()
	assert.False(t, ok, "stale window should be evicted")
}
