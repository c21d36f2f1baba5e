// Package timeutil is the engine's single source of wall time. Pose
// timestamps, input change times and frame durations all read one Clock,
// so tests can pin every one of them with a MockClock.
package timeutil

import (
	"math"
	"sync"
	"time"
)

// Clock reports wall time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// NowNanos returns c.Now() as Unix nanoseconds, the timestamp unit used
// for pose samples and input state.
func NowNanos(c Clock) int64 {
	return c.Now().UnixNano()
}

// FrameInterval is the frame period at a refresh rate of hz. Rates that
// are not positive and finite give 0.
func FrameInterval(hz float64) time.Duration {
	if !(hz > 0) || math.IsInf(hz, 1) {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// MockClock only moves when told to.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set jumps to t, backwards included.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (c *MockClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// StepFrames advances by n frame periods at hz.
func (c *MockClock) StepFrames(n int, hz float64) time.Time {
	return c.Advance(time.Duration(n) * FrameInterval(hz))
}
