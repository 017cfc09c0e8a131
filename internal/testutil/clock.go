package testutil

import (
	"sync"
	"time"
)

// FixedNow is the default time of a DeterministicClock:
// 2024-01-01T00:00:00Z in epoch milliseconds.
const FixedNow int64 = 1704067200000

// DeterministicClock is a manually driven clock for tests. Unlike
// control.StepClock it never moves on its own, so date functions and
// ExecutionLog timestamps can be asserted exactly.
//
// Implements control.Clock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now int64
}

// NewDeterministicClock creates a clock reading FixedNow.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: FixedNow}
}

// Now returns the current time in epoch milliseconds.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to ms.
func (c *DeterministicClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}

// Advance moves the clock forward by d and returns the new time.
func (c *DeterministicClock) Advance(d time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d.Milliseconds()
	return c.now
}

// Reset moves the clock back to FixedNow.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = FixedNow
}
