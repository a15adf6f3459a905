package conversation

import (
	"time"

	"github.com/govorun-ai/govorun/pkg/audio"
)

// HistoryEntry records one exited state for diagnostics.
type HistoryEntry struct {
	// State that was exited.
	State State

	// Event that triggered the exit.
	Event Event

	// Dwell is how long the conversation stayed in the state.
	Dwell time.Duration

	// At is when the state was exited.
	At time.Time
}

// ResumeSnapshot captures the turn progress at interruption time so RESUME
// can restore intent instead of restarting the turn from scratch.
type ResumeSnapshot struct {
	PreviousState State
	Transcription string
	Intent        string
	PlanSteps     []string
	TakenAt       time.Time
}

// Metrics accumulates per-session counters. Read through
// [Context.MetricsSnapshot]; mutated only by the machine.
type Metrics struct {
	Transitions   int64
	Rejections    int64
	Interruptions int64
	Timeouts      int64
	Errors        int64
	TurnsComplete int64
}

// Context is the per-session conversation record. It is created at session
// start, mutated exclusively by the state machine while it holds its own
// lock, and discarded at shutdown. Direct access is therefore only safe from
// transition actions and callbacks, which the machine serialises.
type Context struct {
	CurrentState  State
	PreviousState State

	// enteredAt marks when CurrentState was entered, for dwell accounting.
	enteredAt time.Time

	// history is a bounded ring of exited states; oldest entries evicted.
	history    []HistoryEntry
	historyCap int

	// Turn payload, filled in as the lifecycle progresses.
	Segment       *audio.Segment
	Transcription string
	Confidence    float64
	Intent        string
	PlanSteps     []string
	Response      string

	// Resume carries the interruption snapshot while in StateInterrupted.
	Resume *ResumeSnapshot

	// ErrorCount tracks consecutive SYSTEM_ERROR recoveries; cleared on a
	// completed turn.
	ErrorCount int

	metrics Metrics
}

// newContext creates a session context in StateIdle.
func newContext(historyCap int) *Context {
	return &Context{
		CurrentState: StateIdle,
		enteredAt:    time.Now(),
		history:      make([]HistoryEntry, 0, historyCap),
		historyCap:   historyCap,
	}
}

// recordExit appends a history entry for the state being left, evicting the
// oldest entry when the ring is full.
func (c *Context) recordExit(ev Event, now time.Time) {
	entry := HistoryEntry{
		State: c.CurrentState,
		Event: ev,
		Dwell: now.Sub(c.enteredAt),
		At:    now,
	}
	if len(c.history) == c.historyCap {
		copy(c.history, c.history[1:])
		c.history = c.history[:len(c.history)-1]
	}
	c.history = append(c.history, entry)
}

// History returns a copy of the state history ring, oldest first.
func (c *Context) History() []HistoryEntry {
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// MetricsSnapshot returns a copy of the cumulative session counters.
func (c *Context) MetricsSnapshot() Metrics {
	return c.metrics
}

// clearTurn resets the per-turn payload after a completed or abandoned turn.
func (c *Context) clearTurn() {
	c.Segment = nil
	c.Transcription = ""
	c.Confidence = 0
	c.Intent = ""
	c.PlanSteps = nil
	c.Response = ""
}
