package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time for FixedClock.
var Epoch = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

// FixedClock is a controllable wall clock for tests.
//
// Now returns the same instant until Advance or Set is called, which makes
// snapshot file names and provenance timestamps predictable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock returns a clock stopped at start. A zero start uses Epoch.
func NewFixedClock(start time.Time) *FixedClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FixedClock{now: start}
}

// Now returns the current instant. Pass c.Now wherever a func() time.Time
// is expected.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
