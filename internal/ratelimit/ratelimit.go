// Package ratelimit throttles abuse-prone endpoints such as password login
// and media upload.
//
// Two implementations share the Limiter interface: Memory keeps a token
// bucket per key inside the process, Redis keeps a fixed-window counter per
// key so every replica sees the same count.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter reports whether one more event for key is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is an in-process Limiter: a token bucket per key refilled at
// limit events per window, bursting up to limit.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory creates a Memory limiter. Idle buckets are dropped every
// cleanup interval until ctx is cancelled.
func NewMemory(ctx context.Context, limit int, window time.Duration) *Memory {
	m := &Memory{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	go m.cleanupLoop(ctx, window*2)
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	if m.limit <= 0 {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		every := rate.Every(m.window / time.Duration(m.limit))
		b = &bucket{limiter: rate.NewLimiter(every, m.limit)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

func (m *Memory) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup(interval)
		}
	}
}

// cleanup drops buckets idle for longer than idle. A bucket idle that long
// has refilled completely, so dropping it changes no decision.
func (m *Memory) cleanup(idle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
