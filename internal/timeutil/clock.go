// Package timeutil seams the store's retry backoff off the wall clock, so
// busy-retry tests assert on recorded waits instead of sleeping through them.
package timeutil

import (
	"sync"
	"time"
)

// Clock covers the time operations the store performs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses for at least d.
	Sleep(d time.Duration)
}

// RealClock is the production clock.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// MockClock is a manual clock for tests. Sleep returns immediately, records
// the requested duration, and advances the mock's notion of now by it.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewMockClock returns a MockClock frozen at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

// Sleeps returns every duration passed to Sleep, in call order.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
