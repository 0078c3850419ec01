// Package ratelimit implements fixed-window request limiting with a
// temporary block once a window overflows. Keys are caller-chosen, so
// one Limiter can serve per-IP, per-scope, and per-session limits.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Limit describes one policy: at most Max events per Window, then
// blocked for Block.
type Limit struct {
	Window time.Duration
	Block  time.Duration
	Max    int
}

// Result reports the outcome of a Check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the remaining wait up to whole seconds, with
// a floor of 1 so clients never see "retry after 0".
func (r Result) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// BlockedError is returned by services that fold rate limiting into a
// domain operation.
type BlockedError struct {
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

// RetryAfterSeconds mirrors Result.RetryAfterSeconds.
func (e *BlockedError) RetryAfterSeconds() int {
	return Result{RetryAfter: e.RetryAfter}.RetryAfterSeconds()
}

type bucket struct {
	windowStart  time.Time
	blockedUntil time.Time
	window       time.Duration
	count        int
}

// Limiter tracks buckets per key. All methods are safe for concurrent
// use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New returns an empty Limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Check records one event for key under lim and reports whether it is
// allowed. Overflowing a window starts the block; checks while blocked
// are rejected with the remaining block time and do not extend it.
func (l *Limiter) Check(key string, lim Limit) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now, window: lim.Window}
		l.buckets[key] = b
	}

	if now.Before(b.blockedUntil) {
		return Result{RetryAfter: b.blockedUntil.Sub(now)}
	}

	if now.Sub(b.windowStart) >= lim.Window {
		b.windowStart = now
		b.count = 0
	}
	b.window = lim.Window

	b.count++
	if b.count > lim.Max {
		b.blockedUntil = now.Add(lim.Block)
		return Result{RetryAfter: lim.Block}
	}
	return Result{Allowed: true}
}

// Sweep drops buckets that are both unblocked and stale for at least
// three windows. Called periodically so idle keys do not accumulate.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Before(b.blockedUntil) {
			continue
		}
		if now.Sub(b.windowStart) >= 3*b.window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
