// Package timeutil provides small cancellable timer abstractions shared by
// pipeline components. Owning a [Debouncer] or [Deadline] instead of raw
// time.Timer values makes "clear on destroy" structural: Close stops the
// timer and prevents any further callback, so components never leak a timer
// past their own shutdown.
package timeutil

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Trigger calls into a single callback after a
// quiet period. Each Trigger restarts the delay. All methods are safe for
// concurrent use.
type Debouncer struct {
	delay time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewDebouncer creates a debouncer with the given quiet-period delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn to run after the quiet period, cancelling any
// previously scheduled callback. A zero or negative delay runs fn
// synchronously.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.delay <= 0 {
		d.timer = nil
		go fn()
		return
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Cancel drops any pending callback without closing the debouncer.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Close cancels any pending callback and rejects all future Trigger calls.
// Safe to call more than once.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Deadline arms a single-shot timeout that can be re-armed or disarmed.
// Unlike Debouncer it is meant for "something must happen within d or we
// escalate" flows (state dwell timeouts).
type Deadline struct {
	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewDeadline creates an unarmed deadline.
func NewDeadline() *Deadline {
	return &Deadline{}
}

// Arm schedules fn to fire after d, replacing any previously armed deadline.
// Arming with d <= 0 is a no-op (the state has no timeout).
func (dl *Deadline) Arm(d time.Duration, fn func()) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.closed {
		return
	}
	if dl.timer != nil {
		dl.timer.Stop()
		dl.timer = nil
	}
	if d <= 0 {
		return
	}
	dl.timer = time.AfterFunc(d, fn)
}

// Disarm cancels the pending deadline, if any.
func (dl *Deadline) Disarm() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.timer != nil {
		dl.timer.Stop()
		dl.timer = nil
	}
}

// Close disarms the deadline and rejects all future Arm calls.
func (dl *Deadline) Close() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.closed = true
	if dl.timer != nil {
		dl.timer.Stop()
		dl.timer = nil
	}
}
