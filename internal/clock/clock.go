// Package clock provides an abstraction over time operations for testability.
// Production code uses RealClock, tests can inject MockClock for deterministic behavior.
package clock

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine.
	// Returns a Timer that can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call was stopped,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// NewRealClock creates a new RealClock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now implements Clock.Now using time.Now.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Clock.AfterFunc using time.AfterFunc.
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MockClock is a manually driven Clock. Time only moves when Advance or Set is called,
// and AfterFunc callbacks fire synchronously from the goroutine that moves time.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*mockTimer
}

// NewMockClock returns a MockClock frozen at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// Now returns the mock's current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the mock time reaches Now()+d.
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	t := &mockTimer{clock: c, at: c.now.Add(d), fn: f}
	c.pending = append(c.pending, t)
	c.mu.Unlock()

	if d <= 0 {
		c.fireDue()
	}
	return t
}

// Advance moves the mock time forward by d and fires any due callbacks.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fireDue()
}

// Set jumps the mock time to t. Moving backwards is allowed so tests can simulate
// wall-clock corrections.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.fireDue()
}

// PendingCount returns the number of callbacks that have not fired or been stopped.
func (c *MockClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *MockClock) fireDue() {
	c.mu.Lock()
	var due []*mockTimer
	kept := c.pending[:0]
	for _, t := range c.pending {
		if !t.at.After(c.now) {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	c.pending = kept
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (c *MockClock) remove(target *mockTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.pending {
		if t == target {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

type mockTimer struct {
	clock *MockClock
	at    time.Time
	fn    func()
}

// Stop implements Timer.Stop.
func (t *mockTimer) Stop() bool {
	return t.clock.remove(t)
}
