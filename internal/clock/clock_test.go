// SPDX-License-Identifier: MPL-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestReal(t *testing.T) {
	t.Parallel()

	c := Real{}
	before := time.Now()
	if now := c.Now(); now.Before(before) {
		t.Errorf("Real.Now() = %v, before %v", now, before)
	}

	fired := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Error("Real.AfterFunc did not fire within 1s")
	}

	stopped := c.AfterFunc(time.Hour, func() { t.Error("stopped timer fired") })
	if !stopped.Stop() {
		t.Error("Stop() on pending timer should return true")
	}
}

func TestFake_DefaultTime(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Time{})
	expected := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := c.Now(); !got.Equal(expected) {
		t.Errorf("Now() = %v, want %v", got, expected)
	}
}

func TestFake_AdvanceAndSince(t *testing.T) {
	t.Parallel()

	initial := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewFake(initial)
	c.Advance(time.Hour)

	if got := c.Now(); !got.Equal(initial.Add(time.Hour)) {
		t.Errorf("Now() = %v", got)
	}
	if got := c.Since(initial); got != time.Hour {
		t.Errorf("Since() = %v, want 1h", got)
	}
}

func TestFake_AfterFunc(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Time{})
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	late := c.AfterFunc(time.Minute, func() { order = append(order, 60) })

	if c.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", c.Pending())
	}

	c.Advance(500 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("timers fired early: %v", order)
	}

	c.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("fired order = %v, want [1 2]", order)
	}

	if !late.Stop() {
		t.Error("Stop() on pending timer should return true")
	}
	if late.Stop() {
		t.Error("second Stop() should return false")
	}
	c.Set(c.Now().Add(time.Hour))
	if len(order) != 2 {
		t.Errorf("stopped timer fired: %v", order)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFake_AfterFuncImmediate(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Time{})
	var fired atomic.Bool
	done := make(chan struct{})
	timer := c.AfterFunc(0, func() {
		fired.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-duration AfterFunc did not fire")
	}
	if timer.Stop() {
		t.Error("Stop() after firing should return false")
	}
}
