package resilience

import (
	"context"

	"github.com/govorun-ai/govorun/pkg/audio"
	"github.com/govorun-ai/govorun/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] over a [Failover] chain of
// transcription backends, each behind its own breaker.
type STTFallback struct {
	chain *Failover[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FailoverConfig) *STTFallback {
	return &STTFallback{
		chain: NewFailover(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription backend as a standby.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.chain.Add(name, provider)
}

// Transcribe submits the segment to the first healthy backend. When the
// primary fails or its breaker is open, standbys are tried in order.
func (f *STTFallback) Transcribe(ctx context.Context, seg *audio.Segment) (stt.Result, error) {
	return Attempt(f.chain, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, seg)
	})
}

// StreamFallback implements [stt.StreamProvider] with failover applied at
// session establishment. An established session is never failed over
// mid-stream.
type StreamFallback struct {
	chain *Failover[stt.StreamProvider]
}

var _ stt.StreamProvider = (*StreamFallback)(nil)

// NewStreamFallback creates a [StreamFallback] with primary as the preferred
// backend.
func NewStreamFallback(primary stt.StreamProvider, primaryName string, cfg FailoverConfig) *StreamFallback {
	return &StreamFallback{
		chain: NewFailover(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional streaming backend as a standby.
func (f *StreamFallback) AddFallback(name string, provider stt.StreamProvider) {
	f.chain.Add(name, provider)
}

// StartStream opens a streaming transcription session against the first
// healthy backend.
func (f *StreamFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	return Attempt(f.chain, func(p stt.StreamProvider) (stt.Session, error) {
		return p.StartStream(ctx, cfg)
	})
}
