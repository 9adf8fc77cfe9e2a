package domain

import (
	"sync"
	"time"
)

// Clock supplies the execution time of an operation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock at second precision, matching block time.
type SystemClock struct{}

// Now returns the current UTC time truncated to the second.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// MonotonicClock wraps a Clock and never reports a time earlier than one it
// has already returned. Rate limiting depends on this.
type MonotonicClock struct {
	mu   sync.Mutex
	base Clock
	last time.Time
}

// NewMonotonicClock wraps base. A nil base uses SystemClock.
func NewMonotonicClock(base Clock) *MonotonicClock {
	if base == nil {
		base = SystemClock{}
	}
	return &MonotonicClock{base: base}
}

// Now returns max(base.Now(), last returned value).
func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.base.Now()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts a manual clock at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
