package testutil

import (
	"sync"
	"time"
)

// ManualClock is a monotonic clock that only moves when told to.
//
// It satisfies lock.Clock. Elapsed starts at zero and WallAt maps elapsed
// time onto a fixed wall-clock origin, so expiry strings are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu      sync.Mutex
	elapsed time.Duration
	origin  time.Time
}

// DefaultOrigin is the wall time ManualClock reports at elapsed zero.
var DefaultOrigin = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewManualClock creates a clock at elapsed zero anchored at DefaultOrigin.
func NewManualClock() *ManualClock {
	return &ManualClock{origin: DefaultOrigin}
}

// Elapsed returns the current monotonic reading.
func (c *ManualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// WallAt converts an elapsed reading to wall time.
func (c *ManualClock) WallAt(elapsed time.Duration) time.Time {
	return c.origin.Add(elapsed)
}

// Advance moves the clock forward by d. Negative durations are ignored:
// a monotonic clock never runs backwards.
func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed += d
}

// Reset returns the clock to elapsed zero.
func (c *ManualClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed = 0
}
