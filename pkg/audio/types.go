// Package audio defines the data types shared by the govorun audio pipeline —
// frames, segments, boundaries — plus the fixed-capacity sample ring buffer the
// segmenter accumulates into and a small WAV encoder for handing segments to
// HTTP transcription backends.
//
// A [Segment] is the unit of work for everything downstream of the segmenter:
// the conversation state machine consumes it for the live flow and the replay
// buffer holds a reference to the same immutable payload for durability. The
// Samples slice must therefore never be mutated after the segment is emitted.
package audio

import "time"

// Frame represents a single window of interleaved float PCM samples flowing
// through the pipeline. Frames are ephemeral: produced per processing tick and
// consumed immediately by VAD scoring.
type Frame struct {
	// Samples holds interleaved float PCM in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for STT input, 48000 for capture devices).
	SampleRate int

	// Channels: 1 for mono (the STT path), 2 for stereo capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock span the frame covers.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := len(f.Samples) / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// BoundaryType classifies how firm a detected cut point is.
type BoundaryType string

const (
	// BoundaryHard marks a cut point the segmenter must honour immediately
	// (forced max-duration cuts).
	BoundaryHard BoundaryType = "hard"

	// BoundarySoft marks a candidate cut point subject to stability analysis
	// and debouncing (pause and energy-drop boundaries).
	BoundarySoft BoundaryType = "soft"
)

// BoundaryReason records which detector produced a boundary.
type BoundaryReason string

const (
	ReasonPause       BoundaryReason = "pause"
	ReasonEnergyDrop  BoundaryReason = "energy-drop"
	ReasonMaxDuration BoundaryReason = "max-duration"
)

// Boundary is a candidate cut point inside the accumulated sample buffer.
// Boundaries are transient: produced by the boundary detector and consumed
// once per buffer-check cycle.
type Boundary struct {
	// Position is the sample offset of the cut point, relative to the ring
	// buffer's current read cursor.
	Position int

	// Type is hard or soft.
	Type BoundaryType

	// Confidence in [0, 1] that this is a genuine utterance boundary.
	Confidence float64

	// Reason names the detector that produced the boundary.
	Reason BoundaryReason
}

// SegmentMetadata carries the closed set of optional per-segment annotations.
// It deliberately replaces the open-ended metadata bags of earlier designs so
// consumers can rely on a fixed schema.
type SegmentMetadata struct {
	// Locale is the BCP-47 language tag the segmenter profile was tuned for
	// (e.g., "en-US", "ru-RU"). Empty when the default profile produced it.
	Locale string

	// SampleRate and Channels describe the payload format.
	SampleRate int
	Channels   int

	// Source identifies the capture path ("mic", "replay", "test").
	Source string
}

// Segment is a bounded span of audio judged ready for transcription.
//
// Segments are immutable after emission: the Samples slice is shared by
// reference between the live conversation flow and the durability buffer, so
// neither may write to it.
type Segment struct {
	// ID uniquely identifies the segment within the session.
	ID string

	// Samples is the raw mono float PCM payload.
	Samples []float32

	// StartTime and EndTime are stream-relative offsets of the segment span.
	StartTime time.Duration
	EndTime   time.Duration

	// Duration is EndTime - StartTime, cached for convenience.
	Duration time.Duration

	// IsStable reports whether the stability analyzer judged the segment's
	// boundaries final (confidence ≥ the configured stability threshold).
	IsStable bool

	// Confidence is the stability analyzer's combined score in [0, 1].
	Confidence float64

	// VADScore is the mean voice-activity score across the segment's frames.
	VADScore float64

	// BoundaryType records whether the closing cut was hard or soft.
	BoundaryType BoundaryType

	// Metadata holds the closed annotation set.
	Metadata SegmentMetadata
}

// HasVoice reports whether the segment's VAD score indicates speech content.
// The 0.5 midpoint matches the VAD engine's classification threshold default.
func (s *Segment) HasVoice() bool {
	return s.VADScore >= 0.5
}

// MemorySize returns the payload size in bytes, used by the replay buffer's
// memory budget accounting.
func (s *Segment) MemorySize() int64 {
	return int64(len(s.Samples)) * 4
}
