package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
)

// TokenBucket admits sessions per host at a steady rate with a burst allowance.
// Each accepted connection consumes one token; tokens refill continuously.
// A host idle long enough to refill completely is forgotten, since a fresh
// bucket starts full.
type TokenBucket struct {
	clock     clock.Clock
	rate      float64 // tokens per second
	capacity  int
	fillTime  time.Duration // empty to full
	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket creates a token bucket allowing rate sessions per window.
// A non-positive burst means burst = rate.
func NewTokenBucket(rate int, window time.Duration, burst int, c clock.Clock) *TokenBucket {
	if burst <= 0 {
		burst = rate
	}
	tb := &TokenBucket{
		clock:    c,
		rate:     float64(rate) / window.Seconds(),
		capacity: burst,
		buckets:  make(map[string]*bucket),
	}
	tb.fillTime = tb.durationFor(float64(burst))
	tb.nextSweep = c.Now().Add(tb.fillTime)
	return tb
}

func (tb *TokenBucket) Allow(_ context.Context, key string) Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	if !now.Before(tb.nextSweep) {
		tb.sweep(now)
	}

	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.capacity), lastFill: now}
		tb.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastFill).Seconds() * tb.rate
	if b.tokens > float64(tb.capacity) {
		b.tokens = float64(tb.capacity)
	}
	b.lastFill = now

	resetAt := now
	if deficit := float64(tb.capacity) - b.tokens; deficit > 0 {
		resetAt = now.Add(tb.durationFor(deficit))
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return Decision{
			Allowed:   true,
			Remaining: int(b.tokens),
			Limit:     tb.capacity,
			ResetAt:   resetAt,
		}
	}

	return Decision{
		Limit:   tb.capacity,
		ResetAt: resetAt,
		RetryAt: now.Add(tb.durationFor(1.0 - b.tokens)),
	}
}

func (tb *TokenBucket) durationFor(tokens float64) time.Duration {
	return time.Duration(tokens / tb.rate * float64(time.Second))
}

// sweep drops buckets that have been idle for a full refill. Callers hold mu.
func (tb *TokenBucket) sweep(now time.Time) {
	for key, b := range tb.buckets {
		if now.Sub(b.lastFill) >= tb.fillTime {
			delete(tb.buckets, key)
		}
	}
	tb.nextSweep = now.Add(tb.fillTime)
}

// Len returns the number of hosts currently tracked.
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}
