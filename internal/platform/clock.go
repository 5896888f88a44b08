package platform

import (
	"sync"
	"time"
)

// Clock abstracts time so cooldowns, rate limits, and schedules can be
// tested deterministically. Production code uses RealClock; tests use
// FakeClock.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock is the wall-clock implementation of Clock
type RealClock struct{}

// NewRealClock creates a RealClock
func NewRealClock() Clock {
	return RealClock{}
}

// Now implements Clock.Now
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since implements Clock.Since
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// FakeClock is a manually advanced clock for tests
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock starting at the given instant
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now implements Clock.Now
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since implements Clock.Since
func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to an absolute instant
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
