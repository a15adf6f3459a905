package conversation

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/govorun-ai/govorun/internal/timeutil"
	"github.com/govorun-ai/govorun/pkg/audio"
)

// Config tunes the conversation machine. Zero values are replaced with
// defaults by [NewMachine].
type Config struct {
	// MaxHistory bounds the diagnostic state-history ring. Default: 50.
	MaxHistory int

	// MaxRetryAttempts caps consecutive error recoveries before the machine
	// forces Shutdown. Default: 3.
	MaxRetryAttempts int

	// BargeInDelay is the budget within which a user interrupt must cancel
	// all registered operations. Default: 200ms.
	BargeInDelay time.Duration

	// StateTimeouts overrides the per-state dwell timeout. A zero entry
	// disables the timeout for that state. States absent from the map use
	// the built-in defaults; Idle and Shutdown never time out.
	StateTimeouts map[State]time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 50
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = 3
	}
	if c.BargeInDelay <= 0 {
		c.BargeInDelay = 200 * time.Millisecond
	}
	defaults := map[State]time.Duration{
		StateListening:         60 * time.Second,
		StateUtteranceDetected: 5 * time.Second,
		StateTranscribing:      10 * time.Second,
		StateIntent:            5 * time.Second,
		StatePlan:              5 * time.Second,
		StateExecute:           30 * time.Second,
		StateRespond:           30 * time.Second,
		StateInterrupted:       30 * time.Second,
		StateError:             10 * time.Second,
		StatePaused:            10 * time.Minute,
	}
	if c.StateTimeouts == nil {
		c.StateTimeouts = defaults
		return
	}
	merged := make(map[State]time.Duration, len(defaults))
	for s, d := range defaults {
		merged[s] = d
	}
	for s, d := range c.StateTimeouts {
		merged[s] = d
	}
	c.StateTimeouts = merged
}

// TranscriptionData is the payload of EventTranscription.
type TranscriptionData struct {
	Text       string
	Confidence float64
}

// Transition is one static table entry. Entries are immutable after
// construction; when several match a (state, event) pair the highest
// priority wins.
type Transition struct {
	From     State
	To       State
	Event    Event
	Priority int

	// Guard, when non-nil, must return true for the entry to apply.
	Guard func(c *Context, data any) bool

	// Action runs before the state change is applied; its error is caught
	// and converted into a SYSTEM_ERROR event, never propagated.
	Action func(c *Context, data any) error

	// Target, when non-nil, overrides To based on the session context
	// (resume restoration, retry-cap shutdown).
	Target func(c *Context) State
}

// Callbacks holds the machine's event listeners. Nil fields are skipped.
// Callbacks run outside the machine's lock, after the transition is applied.
type Callbacks struct {
	OnStateChanged      func(from, to State, ev Event)
	OnEnterState        func(s State)
	OnInvalidTransition func(s State, ev Event)
	OnInterrupted       func(snap ResumeSnapshot)
	OnError             func(errorCount int, data any)
	OnShutdown          func()
}

type tableKey struct {
	from  State
	event Event
}

// Machine is the conversation state machine. Exactly one transition is in
// flight at any time: ProcessEvent calls arriving while a transition action
// executes are rejected, keeping action side effects sequential.
type Machine struct {
	cfg        Config
	table      map[tableKey][]Transition
	interrupts *InterruptHandler
	deadline   *timeutil.Deadline

	mu     sync.Mutex
	sess   *Context
	cb     Callbacks
	busy   bool
	closed bool
}

// NewMachine creates a machine in StateIdle with the static transition table
// loaded. Send [EventStart] to begin listening.
func NewMachine(cfg Config) *Machine {
	cfg.applyDefaults()
	m := &Machine{
		cfg:        cfg,
		interrupts: NewInterruptHandler(),
		deadline:   timeutil.NewDeadline(),
		sess:       newContext(cfg.MaxHistory),
	}
	m.table = m.buildTable()
	return m
}

// SetCallbacks registers the machine's event listeners.
func (m *Machine) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb = cb
}

// Interrupts exposes the registry collaborators register cancellable
// operations with; USER_INTERRUPT cancels everything registered here.
func (m *Machine) Interrupts() *InterruptHandler {
	return m.interrupts
}

// CurrentState returns the session's current state.
func (m *Machine) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.CurrentState
}

// History returns a copy of the diagnostic state-history ring.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.History()
}

// Metrics returns a snapshot of the cumulative session counters.
func (m *Machine) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.MetricsSnapshot()
}

// Interrupt is shorthand for ProcessEvent(EventUserInterrupt, nil).
func (m *Machine) Interrupt() bool {
	return m.ProcessEvent(EventUserInterrupt, nil)
}

// Close disarms timers and rejects all further events. The session context
// is discarded with the machine.
func (m *Machine) Close() {
	m.deadline.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// ProcessEvent looks up (currentState, ev) in the static table and applies
// the highest-priority matching transition. Returns false — leaving the
// state unchanged — when no transition matches, a guard rejects the event,
// another transition is still executing, or the machine is closed.
func (m *Machine) ProcessEvent(ev Event, data any) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if m.busy {
		m.sess.metrics.Rejections++
		cb := m.cb
		s := m.sess.CurrentState
		m.mu.Unlock()
		slog.Debug("conversation: event rejected, transition in flight", "state", s, "event", ev)
		if cb.OnInvalidTransition != nil {
			cb.OnInvalidTransition(s, ev)
		}
		return false
	}

	from := m.sess.CurrentState
	tr, ok := m.lookup(from, ev, data)
	if !ok {
		m.sess.metrics.Rejections++
		cb := m.cb
		m.mu.Unlock()
		slog.Debug("conversation: no transition", "state", from, "event", ev)
		if cb.OnInvalidTransition != nil {
			cb.OnInvalidTransition(from, ev)
		}
		return false
	}

	m.busy = true
	sess := m.sess
	m.mu.Unlock()

	// The busy flag serialises access to sess outside the lock.
	var actErr error
	if tr.Action != nil {
		actErr = tr.Action(sess, data)
	}
	target := tr.To
	if tr.Target != nil {
		target = tr.Target(sess)
	}

	m.mu.Lock()
	now := time.Now()
	sess.recordExit(ev, now)
	sess.PreviousState = from
	sess.CurrentState = target
	sess.enteredAt = now
	sess.metrics.Transitions++
	if ev == EventTimeout {
		sess.metrics.Timeouts++
	}
	m.busy = false
	cb := m.cb
	var snap ResumeSnapshot
	if target == StateInterrupted && sess.Resume != nil {
		snap = *sess.Resume
	}
	errCount := sess.ErrorCount
	m.mu.Unlock()

	m.armTimeout(target)

	slog.Debug("conversation: state changed", "from", from, "to", target, "event", ev)
	if cb.OnStateChanged != nil {
		cb.OnStateChanged(from, target, ev)
	}
	if cb.OnEnterState != nil {
		cb.OnEnterState(target)
	}
	switch target {
	case StateInterrupted:
		if cb.OnInterrupted != nil {
			cb.OnInterrupted(snap)
		}
	case StateError:
		if cb.OnError != nil {
			cb.OnError(errCount, data)
		}
	case StateShutdown:
		m.deadline.Close()
		if cb.OnShutdown != nil {
			cb.OnShutdown()
		}
	}

	if actErr != nil {
		slog.Warn("conversation: transition action failed", "from", from, "event", ev, "err", actErr)
		m.ProcessEvent(EventSystemError, fmt.Errorf("action for %s: %w", ev, actErr))
	}
	return true
}

// lookup returns the highest-priority transition for (from, ev) whose guard
// accepts. Must be called with m.mu held.
func (m *Machine) lookup(from State, ev Event, data any) (Transition, bool) {
	for _, tr := range m.table[tableKey{from, ev}] {
		if tr.Guard == nil || tr.Guard(m.sess, data) {
			return tr, true
		}
	}
	return Transition{}, false
}

// armTimeout arms the dwell deadline for the newly entered state; expiry
// synthesizes a TIMEOUT event handled like any other transition trigger.
func (m *Machine) armTimeout(s State) {
	if s == StateIdle || s == StateShutdown {
		m.deadline.Disarm()
		return
	}
	d := m.cfg.StateTimeouts[s]
	if d <= 0 {
		m.deadline.Disarm()
		return
	}
	m.deadline.Arm(d, func() {
		m.ProcessEvent(EventTimeout, nil)
	})
}

// buildTable declares the static transition table. Entries for each
// (state, event) key are pre-sorted by descending priority.
func (m *Machine) buildTable() map[tableKey][]Transition {
	var ts []Transition

	// Normal turn flow.
	ts = append(ts,
		Transition{From: StateIdle, To: StateListening, Event: EventStart, Priority: priorityNormal},
		Transition{From: StateListening, To: StateUtteranceDetected, Event: EventSegmentReady, Priority: priorityNormal, Action: storeSegment},
		// A fresher segment arriving before transcription starts replaces
		// the held one.
		Transition{From: StateUtteranceDetected, To: StateUtteranceDetected, Event: EventSegmentReady, Priority: priorityNormal, Action: storeSegment},
		Transition{From: StateUtteranceDetected, To: StateTranscribing, Event: EventTranscribe, Priority: priorityNormal},
		Transition{From: StateTranscribing, To: StateIntent, Event: EventTranscription, Priority: priorityNormal, Action: storeTranscription},
		Transition{From: StateIntent, To: StatePlan, Event: EventIntentFound, Priority: priorityNormal, Action: storeIntent},
		Transition{From: StatePlan, To: StateExecute, Event: EventPlanReady, Priority: priorityNormal, Action: storePlan},
		Transition{From: StateExecute, To: StateRespond, Event: EventExecuted, Priority: priorityNormal, Action: storeResponse},
		Transition{From: StateRespond, To: StateListening, Event: EventResponded, Priority: priorityNormal, Action: completeTurn},
	)

	// Pause control.
	ts = append(ts,
		Transition{From: StateListening, To: StatePaused, Event: EventPause, Priority: priorityNormal},
		Transition{From: StatePaused, To: StateListening, Event: EventResume, Priority: priorityNormal},
	)

	// Interruption: valid from every active-processing state.
	for _, s := range allStates() {
		if s.IsProcessing() {
			ts = append(ts, Transition{
				From:     s,
				To:       StateInterrupted,
				Event:    EventUserInterrupt,
				Priority: priorityInterrupt,
				Action:   m.interruptAction,
			})
		}
	}
	ts = append(ts,
		Transition{From: StateInterrupted, To: StateListening, Event: EventResume, Priority: priorityNormal, Target: resumeTarget, Action: restoreSnapshot},
		Transition{From: StateInterrupted, To: StateListening, Event: EventReset, Priority: priorityNormal, Action: abandonTurn},
		Transition{From: StateInterrupted, To: StateListening, Event: EventTimeout, Priority: priorityTimeout, Action: abandonTurn},
	)

	// Error handling and timeout recovery.
	for _, s := range allStates() {
		if s.IsProcessing() {
			ts = append(ts, Transition{
				From:     s,
				To:       StateError,
				Event:    EventSystemError,
				Priority: priorityRecovery,
				Action:   recordError,
				Target:   m.errorTarget,
			})
			if s == StateListening {
				continue
			}
			ts = append(ts, Transition{
				From:     s,
				To:       StateError,
				Event:    EventTimeout,
				Priority: priorityTimeout,
				Action:   recordError,
				Target:   m.errorTarget,
			})
		}
	}
	ts = append(ts,
		// An idle listening window restarts itself on timeout.
		Transition{From: StateListening, To: StateListening, Event: EventTimeout, Priority: priorityTimeout},
		Transition{From: StatePaused, To: StatePaused, Event: EventTimeout, Priority: priorityTimeout},
		Transition{From: StateError, To: StateListening, Event: EventReset, Priority: priorityRecovery, Action: clearAfterError, Target: m.errorTarget},
		Transition{From: StateError, To: StateListening, Event: EventTimeout, Priority: priorityTimeout, Action: clearAfterError, Target: m.errorTarget},
	)

	// Shutdown wins over everything, from every non-terminal state.
	for _, s := range allStates() {
		if !s.IsTerminal() {
			ts = append(ts, Transition{
				From:     s,
				To:       StateShutdown,
				Event:    EventShutdown,
				Priority: priorityShutdown,
				Action:   m.shutdownAction,
			})
		}
	}

	table := make(map[tableKey][]Transition)
	for _, tr := range ts {
		k := tableKey{tr.From, tr.Event}
		table[k] = append(table[k], tr)
	}
	for k := range table {
		entries := table[k]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Priority > entries[j].Priority })
		table[k] = entries
	}
	return table
}

func allStates() []State {
	return []State{
		StateIdle, StateListening, StateUtteranceDetected, StateTranscribing,
		StateIntent, StatePlan, StateExecute, StateRespond,
		StateInterrupted, StateError, StatePaused, StateShutdown,
	}
}

// --- transition actions -----------------------------------------------------

func storeSegment(c *Context, data any) error {
	seg, ok := data.(*audio.Segment)
	if !ok || seg == nil {
		return fmt.Errorf("conversation: SEGMENT_READY payload is %T, want *audio.Segment", data)
	}
	c.Segment = seg
	return nil
}

func storeTranscription(c *Context, data any) error {
	td, ok := data.(TranscriptionData)
	if !ok {
		return fmt.Errorf("conversation: TRANSCRIPTION_READY payload is %T, want TranscriptionData", data)
	}
	c.Transcription = td.Text
	c.Confidence = td.Confidence
	return nil
}

func storeIntent(c *Context, data any) error {
	if s, ok := data.(string); ok {
		c.Intent = s
	}
	return nil
}

func storePlan(c *Context, data any) error {
	if steps, ok := data.([]string); ok {
		c.PlanSteps = steps
	}
	return nil
}

func storeResponse(c *Context, data any) error {
	if s, ok := data.(string); ok {
		c.Response = s
	}
	return nil
}

func completeTurn(c *Context, _ any) error {
	c.metrics.TurnsComplete++
	c.ErrorCount = 0
	c.clearTurn()
	return nil
}

func (m *Machine) interruptAction(c *Context, _ any) error {
	c.Resume = &ResumeSnapshot{
		PreviousState: c.CurrentState,
		Transcription: c.Transcription,
		Intent:        c.Intent,
		PlanSteps:     c.PlanSteps,
		TakenAt:       time.Now(),
	}
	c.metrics.Interruptions++
	cancelled := m.interrupts.CancelAll(m.cfg.BargeInDelay)
	slog.Info("conversation interrupted", "cancelled_operations", cancelled, "was", c.CurrentState)
	return nil
}

// resumeTarget returns the state captured at interruption time and consumes
// the snapshot. It runs after restoreSnapshot, which must therefore leave
// c.Resume in place.
func resumeTarget(c *Context) State {
	snap := c.Resume
	c.Resume = nil
	if snap != nil && snap.PreviousState.IsProcessing() {
		return snap.PreviousState
	}
	return StateListening
}

func restoreSnapshot(c *Context, _ any) error {
	if c.Resume == nil {
		return nil
	}
	c.Transcription = c.Resume.Transcription
	c.Intent = c.Resume.Intent
	c.PlanSteps = c.Resume.PlanSteps
	return nil
}

func abandonTurn(c *Context, _ any) error {
	c.Resume = nil
	c.clearTurn()
	return nil
}

func recordError(c *Context, _ any) error {
	c.ErrorCount++
	c.metrics.Errors++
	return nil
}

// errorTarget forces Shutdown once the retry budget is exhausted.
func (m *Machine) errorTarget(c *Context) State {
	if c.ErrorCount > m.cfg.MaxRetryAttempts {
		return StateShutdown
	}
	// SYSTEM_ERROR and TIMEOUT land in Error; RESET and the error dwell
	// timeout recover back to Listening.
	if c.CurrentState == StateError {
		return StateListening
	}
	return StateError
}

func clearAfterError(c *Context, _ any) error {
	c.clearTurn()
	return nil
}

func (m *Machine) shutdownAction(c *Context, _ any) error {
	m.interrupts.CancelAll(m.cfg.BargeInDelay)
	slog.Info("conversation shutting down",
		"turns", c.metrics.TurnsComplete,
		"errors", c.metrics.Errors,
	)
	return nil
}
