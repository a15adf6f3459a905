package conversation

import (
	"context"
	"testing"
	"time"
)

func TestInterruptHandler_DeregisterSkipsCompleted(t *testing.T) {
	h := NewInterruptHandler()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	id1 := h.Register(cancel1)
	h.Register(cancel2)

	h.Deregister(id1)
	if got := h.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}

	if n := h.CancelAll(100 * time.Millisecond); n != 1 {
		t.Errorf("CancelAll cancelled %d operations, want 1", n)
	}
	if ctx1.Err() != nil {
		t.Error("deregistered operation was cancelled")
	}
	if ctx2.Err() == nil {
		t.Error("registered operation was not cancelled")
	}
	if got := h.Pending(); got != 0 {
		t.Errorf("Pending after CancelAll = %d, want 0", got)
	}
}

func TestInterruptHandler_CancelAllEmpty(t *testing.T) {
	h := NewInterruptHandler()
	if n := h.CancelAll(time.Millisecond); n != 0 {
		t.Errorf("CancelAll on empty registry returned %d", n)
	}
}
