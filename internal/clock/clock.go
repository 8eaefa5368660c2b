// Package clock lets the poll loop run on real time in production and on a
// manually advanced clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the poll loop needs
type Clock interface {
	Now() time.Time

	// After sends the current time once d has elapsed
	After(d time.Duration) <-chan time.Time

	Since(t time.Time) time.Duration
}

// RealClock is backed by the time package
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// waiter is an After channel that has not fired yet
type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// MockClock only moves when Advance is called
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

// NewMockClock creates a MockClock frozen at start
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// Now returns the mock time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once Advance passes now+d.
// A non-positive d fires immediately.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// Since returns the mock time elapsed since t
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// PendingTimers returns how many After channels have not fired. Tests wait
// for a goroutine to arm its next wait before calling Advance.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Advance moves the clock forward and fires every waiter that is due
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.deadline.After(c.now) {
			remaining = append(remaining, w)
			continue
		}
		// buffered with one slot and sent to once
		w.ch <- c.now
	}
	c.waiters = remaining
}
