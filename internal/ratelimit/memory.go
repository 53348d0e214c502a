package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is one key's fixed-window counter.
type window struct {
	start time.Time
	count int
}

// MemoryLimiter implements Limiter with an in-memory fixed one-minute
// window per key. A background goroutine evicts idle keys to bound memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter and starts its eviction goroutine.
// Call Close to stop it.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow counts one request against key's minute window. The window rolls
// when 60 seconds have elapsed since it opened; requests beyond limit
// inside a window are denied with the remaining budget at zero.
func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		w = &window{start: now}
		m.windows[key] = w
	}
	resetAt := w.start.Add(time.Minute)

	if w.count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}
	}
	w.count++
	return Result{Allowed: true, Limit: limit, Remaining: limit - w.count, ResetAt: resetAt}
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, w := range m.windows {
		if w.start.Before(cutoff) {
			delete(m.windows, key)
		}
	}
}
