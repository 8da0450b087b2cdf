// SPDX-License-Identifier: MPL-2.0

// Package clock abstracts time for the venue's deadline watchdog so tests
// can fire timeouts deterministically.
package clock

import (
	"slices"
	"sync"
	"time"
)

type (
	// Clock abstracts time operations.
	// Production code uses Real; tests use Fake.
	Clock interface {
		// Now returns the current time.
		Now() time.Time

		// Since returns the time elapsed since t.
		Since(t time.Time) time.Duration

		// AfterFunc calls f on its own goroutine once d has elapsed.
		AfterFunc(d time.Duration, f func()) Timer
	}

	// Timer is a pending AfterFunc call.
	Timer interface {
		// Stop prevents the call from firing. It returns false if the call
		// already fired or was stopped.
		Stop() bool
	}

	// Real implements Clock using system time.
	Real struct{}

	// Fake implements Clock with manually controlled time.
	// Time only advances when Advance or Set is called; due callbacks run
	// synchronously on the advancing goroutine.
	Fake struct {
		mu      sync.Mutex
		current time.Time
		timers  []*fakeTimer
	}

	fakeTimer struct {
		clock  *Fake
		target time.Time
		fn     func()
		done   bool
	}
)

// Now returns the current system time.
func (Real) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// NewFake creates a Fake initialized to initial.
// If initial is zero, a fixed reference time is used for reproducibility.
func NewFake(initial time.Time) *Fake {
	if initial.IsZero() {
		initial = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Fake{current: initial}
}

// Now returns the current fake time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Since returns the fake time elapsed since t.
func (c *Fake) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// AfterFunc registers f to run when the fake time reaches now+d.
// A non-positive d runs f immediately on a new goroutine, as time.AfterFunc does.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, target: c.current.Add(d), fn: f}
	if d <= 0 {
		t.done = true
		go f()
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the fake time forward by d and runs due callbacks in
// deadline order.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	due := c.collectDue()
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Set sets the fake time to t and runs due callbacks.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	due := c.collectDue()
	c.mu.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

// collectDue removes and returns timers whose target has been reached.
// Must be called with mu held.
func (c *Fake) collectDue() []*fakeTimer {
	var due []*fakeTimer
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !c.current.Before(t.target) {
			t.done = true
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	slices.SortStableFunc(due, func(a, b *fakeTimer) int { return a.target.Compare(b.target) })
	return due
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	c.timers = slices.DeleteFunc(c.timers, func(x *fakeTimer) bool { return x == t })
	return true
}
