// Package stt defines the provider contracts for speech-to-text backends.
//
// Two shapes of provider exist. A [Provider] transcribes one finished audio
// segment per call and is what the replay engine and the conversation loop
// submit segments to. A [StreamProvider] keeps a live session open and emits
// interim hypotheses as audio arrives; its results feed the text stream
// buffer, which handles revision detection and display stabilization.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/govorun-ai/govorun/pkg/audio"
)

// ErrSessionClosed is returned by session methods after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// Result is one transcription hypothesis.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal distinguishes authoritative results from interim hypotheses.
	// Batch providers always return final results.
	IsFinal bool

	// Confidence is the provider's score in [0, 1]; zero when unreported.
	Confidence float64

	// Language is the BCP-47 tag the provider recognised, when reported.
	Language string
}

// Provider transcribes finished segments.
type Provider interface {
	// Transcribe converts one segment to text. Implementations must respect
	// ctx cancellation; a cancelled call counts as a failed attempt for the
	// caller's retry bookkeeping.
	Transcribe(ctx context.Context, seg *audio.Segment) (Result, error)
}

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate in Hz. Zero selects the provider default.
	SampleRate int

	// Channels of the PCM input. Most backends require mono.
	Channels int

	// Language is the BCP-47 recognition tag; empty lets the backend detect.
	Language string

	// InterimResults asks the backend for low-latency partial hypotheses in
	// addition to finals.
	InterimResults bool
}

// Session is an open streaming transcription session. Callers must Close a
// session they no longer need; the Results channel is closed when the
// session ends.
type Session interface {
	// SendAudio delivers mono float PCM for transcription.
	SendAudio(samples []float32) error

	// Results returns interim and final hypotheses in arrival order.
	Results() <-chan Result

	// Close flushes pending audio and releases the session. Safe to call
	// more than once.
	Close() error
}

// StreamProvider is the abstraction over streaming STT backends.
type StreamProvider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (Session, error)
}
