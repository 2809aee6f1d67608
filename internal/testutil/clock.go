package testutil

import (
	"sync"
	"time"
)

// ManualClock provides a thread-safe, manually advanced time source for
// tests that exercise dwell times and rolling windows.
//
// Unlike time.Now, the clock only moves when a test advances it, so
// hysteresis and rate-limit scenarios run identically on every machine.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current instant without advancing.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
//
// Monotonic: negative d panics rather than rewinding time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	if d < 0 {
		panic("testutil: ManualClock cannot rewind")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
//
// Used for test reuse across scenarios sharing a clock.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
