// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to script batch transcription results and inspect which
// segments were submitted. Use StreamProvider with a Session to feed
// controlled Result values and inspect delivered audio.
//
// Example:
//
//	p := &mock.Provider{Results: []stt.Result{{Text: "hello", IsFinal: true}}}
//	res, _ := p.Transcribe(ctx, seg)
package mock

import (
	"context"
	"sync"

	"github.com/govorun-ai/govorun/pkg/audio"
	"github.com/govorun-ai/govorun/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Segment is the segment passed to Transcribe.
	Segment *audio.Segment
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned from successive Transcribe calls in order. When
	// exhausted, the last element repeats. If empty, a zero Result is
	// returned.
	Results []stt.Result

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// TranscribeFunc, if non-nil, overrides the scripted behaviour entirely.
	TranscribeFunc func(ctx context.Context, seg *audio.Segment) (stt.Result, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, seg *audio.Segment) (stt.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Segment: seg})
	fn := p.TranscribeFunc
	var res stt.Result
	if len(p.Results) > 0 {
		i := p.next
		if i >= len(p.Results) {
			i = len(p.Results) - 1
		}
		res = p.Results[i]
		p.next++
	}
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, seg)
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// Calls returns a copy of the recorded Transcribe calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Reset clears all recorded calls and rewinds the scripted results.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.next = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// StartStreamCall records a single invocation of StreamProvider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// StreamProvider is a mock implementation of stt.StreamProvider.
type StreamProvider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, StartStream returns a new
	// default Session with a buffered results channel.
	Session stt.Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *StreamProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Ensure StreamProvider implements stt.StreamProvider at compile time.
var _ stt.StreamProvider = (*StreamProvider)(nil)

// Session is a mock implementation of stt.Session. Tests push hypotheses
// with Emit and inspect delivered audio through SentSamples.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned from every SendAudio call.
	SendAudioErr error

	// SentSamples accumulates copies of every SendAudio payload.
	SentSamples [][]float32

	results chan stt.Result
	closed  bool
}

// NewSession creates a mock session with a results channel of the given
// capacity.
func NewSession(buffer int) *Session {
	return &Session{results: make(chan stt.Result, buffer)}
}

// Emit pushes a scripted result to the session's Results channel.
func (s *Session) Emit(r stt.Result) {
	s.results <- r
}

// SendAudio records the payload.
func (s *Session) SendAudio(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.SentSamples = append(s.SentSamples, cp)
	return nil
}

// Results returns the scripted results channel.
func (s *Session) Results() <-chan stt.Result { return s.results }

// Close closes the results channel. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

// Ensure Session implements stt.Session at compile time.
var _ stt.Session = (*Session)(nil)
