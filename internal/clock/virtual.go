package clock

import (
	"sync"
	"time"
)

// VirtualClock is a controllable clock for deterministic replay tests.
// In manual mode time only moves on Advance or Set. In stepping mode
// every After call moves the clock forward by the requested duration
// and fires immediately, so a paced replay finishes instantly while
// Now still reports the total pacing that would have elapsed.
//
// Thread-safe for concurrent use.
type VirtualClock struct {
	mu       sync.RWMutex
	current  time.Time
	stepping bool
	waits    []time.Duration
	waiters  []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtualClock creates a manually driven VirtualClock starting at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{
		current: start,
	}
}

// NewSteppingClock creates a VirtualClock that advances itself on every After call.
func NewSteppingClock(start time.Time) *VirtualClock {
	return &VirtualClock{
		current:  start,
		stepping: true,
	}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the virtual duration elapsed since t.
func (c *VirtualClock) Since(t time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Sub(t)
}

// After returns a channel that receives the virtual time once the clock
// has moved past the current time plus d.
func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)

	if d <= 0 {
		ch <- c.current
		return ch
	}
	if c.stepping {
		c.current = c.current.Add(d)
		c.drainWaiters()
		ch <- c.current
		return ch
	}

	c.waiters = append(c.waiters, waiter{
		deadline: c.current.Add(d),
		ch:       ch,
	})
	return ch
}

// Waits returns every duration requested through After, in call order.
func (c *VirtualClock) Waits() []time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// Pending returns the number of After channels that have not fired yet.
func (c *VirtualClock) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.waiters)
}

// Advance moves the virtual clock forward by d and fires due waiters.
// Panics if d is negative.
func (c *VirtualClock) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: cannot advance by negative duration")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	c.drainWaiters()
}

// Set moves the virtual clock to t and fires due waiters.
// Panics if t is before the current time.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Before(c.current) {
		panic("clock: cannot set time to the past")
	}

	c.current = t
	c.drainWaiters()
}

// drainWaiters fires all waiters whose deadline is at or before the current time.
// Must be called with c.mu held.
func (c *VirtualClock) drainWaiters() {
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.current) {
			w.ch <- c.current
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}
