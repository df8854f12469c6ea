package testutil

import (
	"sync"
	"time"
)

// Clock is a controllable time source for tests that pin the current
// day or step across a UTC midnight boundary.
type Clock struct {
	now time.Time
	mu  sync.Mutex
}

// NewClock creates a clock frozen at the given time.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the frozen time. Pass the method value as a limiter's
// time hook.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
