// Package ratelimit bounds request rate per identity within a sliding time
// window. Two backends share one contract: an in-memory limiter and a
// Redis-backed one for multi-process deployments.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/stockpulse/sentinel/pkg/metrics"
)

// Limiter admits at most max requests per identity in any trailing window.
type Limiter interface {
	// Allow records the request and admits it, or rejects without recording.
	Allow(ctx context.Context, identity string) bool
	// Remaining reports the unused quota without mutating state.
	Remaining(ctx context.Context, identity string) int
	// Reset clears an identity's window (administrative operation).
	Reset(ctx context.Context, identity string)
	// Max and Window expose the configured limits for introspection.
	Max() int
	Window() time.Duration
}

// SlidingWindowLimiter tracks per-identity request timestamps in memory.
// Admission and recording happen under one lock, so two concurrent requests
// cannot both observe a free slot and over-admit.
type SlidingWindowLimiter struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	requests map[string][]int64 // unix nanos, oldest first
	now      func() time.Time
}

// NewSlidingWindowLimiter creates an in-memory sliding window limiter.
func NewSlidingWindowLimiter(max int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		max:      max,
		window:   window,
		requests: make(map[string][]int64),
		now:      time.Now,
	}
}

func (l *SlidingWindowLimiter) Max() int              { return l.max }
func (l *SlidingWindowLimiter) Window() time.Duration { return l.window }

func (l *SlidingWindowLimiter) Allow(_ context.Context, identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixNano()
	pruned := l.prune(identity, now)

	if len(pruned) >= l.max {
		metrics.RateLimitRejections.Inc()
		return false
	}

	l.requests[identity] = append(pruned, now)
	return true
}

func (l *SlidingWindowLimiter) Remaining(_ context.Context, identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().UnixNano() - l.window.Nanoseconds()
	count := 0
	for _, ts := range l.requests[identity] {
		if ts >= cutoff {
			count++
		}
	}

	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (l *SlidingWindowLimiter) Reset(_ context.Context, identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, identity)
}

// Sweep drops identities whose entire window has elapsed, bounding memory
// growth. Intended to run from a periodic maintenance ticker, not the hot
// path.
func (l *SlidingWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().UnixNano() - l.window.Nanoseconds()
	removed := 0
	for identity, timestamps := range l.requests {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1] < cutoff {
			delete(l.requests, identity)
			removed++
		}
	}
	return removed
}

// prune returns the identity's in-window timestamps. Caller holds the lock.
func (l *SlidingWindowLimiter) prune(identity string, now int64) []int64 {
	timestamps := l.requests[identity]
	cutoff := now - l.window.Nanoseconds()

	idx := 0
	for idx < len(timestamps) && timestamps[idx] < cutoff {
		idx++
	}
	if idx > 0 {
		timestamps = timestamps[idx:]
		l.requests[identity] = timestamps
	}
	return timestamps
}
