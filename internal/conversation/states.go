// Package conversation implements the prioritized finite-state machine that
// drives the voice turn lifecycle: listening → transcribing → intent → plan →
// execute → respond, with immediate barge-in interruption, timeout synthesis,
// and bounded error recovery.
//
// Transitions are declared once in a static table keyed by (state, event);
// when several entries match, the highest priority wins. The conversation
// context is mutated exclusively by [Machine.ProcessEvent] — there is no
// ad-hoc state mutation anywhere else.
package conversation

// State is a node in the conversation lifecycle.
type State string

const (
	StateIdle              State = "idle"
	StateListening         State = "listening"
	StateUtteranceDetected State = "utterance-detected"
	StateTranscribing      State = "transcribing"
	StateIntent            State = "intent"
	StatePlan              State = "plan"
	StateExecute           State = "execute"
	StateRespond           State = "respond"
	StateInterrupted       State = "interrupted"
	StateError             State = "error"
	StatePaused            State = "paused"
	StateShutdown          State = "shutdown"
)

// IsValid reports whether s is a member of the enumerated state set.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateListening, StateUtteranceDetected, StateTranscribing,
		StateIntent, StatePlan, StateExecute, StateRespond,
		StateInterrupted, StateError, StatePaused, StateShutdown:
		return true
	}
	return false
}

// IsTerminal reports whether the conversation cannot leave s.
func (s State) IsTerminal() bool {
	return s == StateShutdown
}

// IsProcessing reports whether s is an active-processing state — one that a
// user interrupt must be able to cut short.
func (s State) IsProcessing() bool {
	switch s {
	case StateListening, StateUtteranceDetected, StateTranscribing,
		StateIntent, StatePlan, StateExecute, StateRespond:
		return true
	}
	return false
}

// Event triggers a transition lookup in the static table.
type Event string

const (
	// Normal turn flow.
	EventStart         Event = "START"
	EventSegmentReady  Event = "SEGMENT_READY"
	EventTranscribe    Event = "TRANSCRIBE"
	EventTranscription Event = "TRANSCRIPTION_READY"
	EventIntentFound   Event = "INTENT_DETECTED"
	EventPlanReady     Event = "PLAN_READY"
	EventExecuted      Event = "EXECUTION_COMPLETE"
	EventResponded     Event = "RESPONSE_COMPLETE"

	// Control flow.
	EventUserInterrupt Event = "USER_INTERRUPT"
	EventResume        Event = "RESUME"
	EventPause         Event = "PAUSE"
	EventReset         Event = "RESET"
	EventSystemError   Event = "SYSTEM_ERROR"
	EventTimeout       Event = "TIMEOUT"
	EventShutdown      Event = "SHUTDOWN"
)

// Transition priorities. When several table entries match one (state, event)
// pair, the highest wins.
const (
	priorityNormal    = 1
	priorityRecovery  = 5
	priorityTimeout   = 6
	priorityInterrupt = 10
	priorityShutdown  = 15
)
