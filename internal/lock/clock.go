package lock

import "time"

// Clock supplies monotonic time.
//
// Elapsed must never decrease. WallAt is used only to render an expiry for
// display and never takes part in expiry decisions.
type Clock interface {
	Elapsed() time.Duration
	WallAt(elapsed time.Duration) time.Time
}

// Instant is a monotonic reading: time elapsed since the clock's origin.
type Instant time.Duration

// Add returns i shifted by d.
func (i Instant) Add(d time.Duration) Instant {
	return i + Instant(d)
}

// systemClock reads Go's monotonic clock. time.Since on a time.Time that
// carries a monotonic reading is immune to wall-clock steps.
type systemClock struct {
	origin time.Time
}

// NewSystemClock returns a Clock backed by the process monotonic clock.
func NewSystemClock() Clock {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) Elapsed() time.Duration {
	return time.Since(c.origin)
}

func (c *systemClock) WallAt(elapsed time.Duration) time.Time {
	return c.origin.Add(elapsed).Round(0)
}

// FormatExpiry renders a wall time as RFC 3339 in UTC.
func FormatExpiry(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
