package control

import (
	"sync/atomic"
	"time"
)

// Clock supplies batch timestamps (epoch milliseconds) for ExecutionLog
// entries and date functions.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time in epoch milliseconds.
func (SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// StepClock is a deterministic clock: every call to Now advances it by a
// fixed step from a fixed start.
//
// Scenario runs use it so that recorded timestamps, and the golden traces
// that contain them, are identical across runs.
//
// Thread-safety: StepClock is safe for concurrent use (atomic operations).
type StepClock struct {
	ms   atomic.Int64
	step int64
}

// NewStepClock creates a clock whose first Now() returns start+step.
// A non-positive step defaults to one second.
func NewStepClock(start, step int64) *StepClock {
	if step <= 0 {
		step = 1000
	}
	c := &StepClock{step: step}
	c.ms.Store(start)
	return c
}

// Now advances the clock and returns the new time.
func (c *StepClock) Now() int64 {
	return c.ms.Add(c.step)
}

// Current returns the current time without advancing.
func (c *StepClock) Current() int64 {
	return c.ms.Load()
}
