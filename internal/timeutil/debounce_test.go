package timeutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Close()

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { fired.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(80 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
}

func TestDebouncer_CancelDropsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Close()

	var fired atomic.Int32
	d.Trigger(func() { fired.Add(1) })
	d.Cancel()

	time.Sleep(60 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("fired %d times after Cancel, want 0", n)
	}
}

func TestDebouncer_ClosedRejectsTrigger(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Close()

	var fired atomic.Int32
	d.Trigger(func() { fired.Add(1) })

	time.Sleep(40 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("fired %d times after Close, want 0", n)
	}
}

func TestDeadline_FiresOnce(t *testing.T) {
	dl := NewDeadline()
	defer dl.Close()

	ch := make(chan struct{}, 1)
	dl.Arm(15*time.Millisecond, func() { ch <- struct{}{} })

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
}

func TestDeadline_RearmReplaces(t *testing.T) {
	dl := NewDeadline()
	defer dl.Close()

	var first atomic.Int32
	dl.Arm(20*time.Millisecond, func() { first.Add(1) })

	ch := make(chan struct{}, 1)
	dl.Arm(40*time.Millisecond, func() { ch <- struct{}{} })

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("re-armed deadline never fired")
	}
	if n := first.Load(); n != 0 {
		t.Fatalf("replaced deadline fired %d times, want 0", n)
	}
}

func TestDeadline_DisarmCancels(t *testing.T) {
	dl := NewDeadline()
	defer dl.Close()

	var fired atomic.Int32
	dl.Arm(15*time.Millisecond, func() { fired.Add(1) })
	dl.Disarm()

	time.Sleep(50 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("fired %d times after Disarm, want 0", n)
	}
}
