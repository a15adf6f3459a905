package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InterruptHandler tracks cancellable in-flight operations so a barge-in can
// cut all of them short at once. Components register the cancel side of their
// operation contexts before starting work and deregister on completion.
//
// All methods are safe for concurrent use.
type InterruptHandler struct {
	mu     sync.Mutex
	ops    map[int64]context.CancelFunc
	nextID int64
}

// NewInterruptHandler creates an empty registry.
func NewInterruptHandler() *InterruptHandler {
	return &InterruptHandler{ops: make(map[int64]context.CancelFunc)}
}

// Register adds a cancel function and returns its registration id.
func (h *InterruptHandler) Register(cancel context.CancelFunc) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.ops[id] = cancel
	return id
}

// Deregister removes a completed operation. Unknown ids are ignored.
func (h *InterruptHandler) Deregister(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.ops, id)
}

// Pending returns the number of currently registered operations.
func (h *InterruptHandler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ops)
}

// CancelAll cancels every registered operation and clears the registry.
// budget is the barge-in deadline the cancellation sweep is expected to fit
// in; an overrun is logged, not an error — cancellation of in-flight I/O is
// best effort and the results of overrun operations are discarded by their
// owners.
func (h *InterruptHandler) CancelAll(budget time.Duration) int {
	start := time.Now()

	h.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(h.ops))
	for _, c := range h.ops {
		cancels = append(cancels, c)
	}
	h.ops = make(map[int64]context.CancelFunc)
	h.mu.Unlock()

	for _, c := range cancels {
		c()
	}

	if elapsed := time.Since(start); budget > 0 && elapsed > budget {
		slog.Warn("barge-in cancellation overran its budget",
			"elapsed", elapsed,
			"budget", budget,
			"operations", len(cancels),
		)
	}
	return len(cancels)
}
