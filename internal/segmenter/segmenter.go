package segmenter

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/govorun-ai/govorun/internal/timeutil"
	"github.com/govorun-ai/govorun/pkg/audio"
)

// Config is the full tuning surface of the audio segmenter. Zero values are
// replaced with defaults by [New].
type Config struct {
	// SampleRate of the incoming PCM in Hz. Default: 16000.
	SampleRate int

	// Channels of the incoming PCM. Stereo input is downmixed to mono on
	// ingest. Default: 1.
	Channels int

	// FrameDuration is the VAD scoring window. Default: 30ms.
	FrameDuration time.Duration

	// BufferCapacity bounds the sample ring. Default: 30s of audio.
	BufferCapacity time.Duration

	// MinSegmentDuration and MaxSegmentDuration bound emitted segments.
	// Segments shorter than the minimum are never emitted; reaching the
	// maximum forces a hard cut. Defaults: 500ms / 5s.
	MinSegmentDuration time.Duration
	MaxSegmentDuration time.Duration

	// MinSpeechDuration is the least voiced audio a candidate must contain
	// to be emitted; silence-only candidates are consumed silently.
	// Default: 250ms.
	MinSpeechDuration time.Duration

	// SegmentOverlap is how much consumed audio stays readable for the next
	// segment, so consecutive segments share an overlap region. Default: 100ms.
	SegmentOverlap time.Duration

	// DebounceTimeout delays emission of soft-boundary segments so a quiet
	// period confirms the cut. Hard cuts bypass the debounce. Default: 300ms.
	DebounceTimeout time.Duration

	// DisableVAD turns off speech scoring; every boundary then comes from
	// energy drops and forced duration cuts only.
	DisableVAD bool

	// Locale is the BCP-47 tag of the tuning profile ("ru-RU" selects the
	// Russian cadence profile and the locale segment callback).
	Locale string

	VAD       VADConfig
	Stability StabilityConfig
	Boundary  BoundaryConfig
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 30 * time.Millisecond
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 30 * time.Second
	}
	if c.MinSegmentDuration <= 0 {
		c.MinSegmentDuration = 500 * time.Millisecond
	}
	if c.MaxSegmentDuration <= 0 {
		c.MaxSegmentDuration = 5 * time.Second
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = 250 * time.Millisecond
	}
	if c.SegmentOverlap < 0 {
		c.SegmentOverlap = 0
	} else if c.SegmentOverlap == 0 {
		c.SegmentOverlap = 100 * time.Millisecond
	}
	if c.DebounceTimeout <= 0 {
		c.DebounceTimeout = 300 * time.Millisecond
	}
	c.Boundary.SampleRate = c.SampleRate
	if c.Boundary.MaxSegmentDuration <= 0 {
		c.Boundary.MaxSegmentDuration = c.MaxSegmentDuration
	}
}

// RussianProfile adjusts cfg for Russian speech cadence: longer inter-phrase
// pauses and a slightly lower stability bar. Segments produced under this
// profile are additionally delivered through the locale segment callback.
func RussianProfile(cfg Config) Config {
	cfg.Locale = "ru-RU"
	if cfg.Boundary.MinSilence <= 0 {
		cfg.Boundary.MinSilence = time.Second
	} else {
		cfg.Boundary.MinSilence = cfg.Boundary.MinSilence * 5 / 4
	}
	if cfg.Stability.Threshold <= 0 {
		cfg.Stability.Threshold = 0.65
	}
	return cfg
}

// Callbacks holds the segmenter's event listeners. Nil fields are skipped.
// Callbacks are invoked synchronously but never while the segmenter's lock is
// held, so a listener may call back into the pipeline.
type Callbacks struct {
	// OnVADResult fires once per scored frame.
	OnVADResult func(VADResult)

	// OnSegmentReady fires for every emitted segment, in sample order.
	OnSegmentReady func(*audio.Segment)

	// OnLocaleSegmentReady additionally fires for segments produced under a
	// non-default locale profile (the russian-segment-ready contract).
	OnLocaleSegmentReady func(*audio.Segment)
}

// Stats is a snapshot of segmenter counters.
type Stats struct {
	FramesScored    int64
	SegmentsEmitted int64
	SamplesDropped  int64
	SamplesConsumed int64
}

// Segmenter is the audio-to-segment pipeline: ring buffer accumulation,
// adaptive VAD scoring, boundary detection, and stability analysis, with
// debounced emission of finished segments.
//
// All methods are safe for concurrent use, but processing is fully
// serialised: exactly one buffer mutation is in flight at a time.
type Segmenter struct {
	cfg Config

	mu       sync.Mutex
	ring     *audio.Ring
	vad      *VAD
	analyzer *StabilityAnalyzer
	detector *BoundaryDetector
	debounce *timeutil.Debouncer

	cb Callbacks

	nextFrame int64 // absolute offset of the next unscored sample
	pending   *audio.Segment
	seq       int64
	stats     Stats
	closed    bool
}

// New creates a segmenter with the given configuration.
func New(cfg Config) *Segmenter {
	cfg.applyDefaults()
	if strings.HasPrefix(strings.ToLower(cfg.Locale), "ru") {
		cfg = RussianProfile(cfg)
	}
	capacity := int(cfg.BufferCapacity * time.Duration(cfg.SampleRate) / time.Second)
	return &Segmenter{
		cfg:      cfg,
		ring:     audio.NewRing(capacity),
		vad:      NewVAD(cfg.VAD),
		analyzer: NewStabilityAnalyzer(cfg.Stability),
		detector: NewBoundaryDetector(cfg.Boundary),
		debounce: timeutil.NewDebouncer(cfg.DebounceTimeout),
	}
}

// SetCallbacks registers the event listeners. Must be called before the first
// ProcessAudio; replacing callbacks mid-stream is allowed but racy against
// in-flight emissions.
func (s *Segmenter) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// ProcessAudio appends interleaved float PCM to the pipeline and may emit
// zero or more segments through the registered callbacks. Malformed input
// (empty slices, NaN samples) is logged and dropped; a buffer that has not
// yet produced a boundary is a no-op, never an error.
func (s *Segmenter) ProcessAudio(samples []float32) {
	if len(samples) == 0 {
		slog.Debug("segmenter: empty input dropped")
		return
	}
	for _, v := range samples {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			slog.Warn("segmenter: malformed input dropped", "samples", len(samples))
			return
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.cfg.Channels == 2 {
		samples = downmix(samples)
	}

	dropped := s.ring.Write(samples)
	s.stats.SamplesDropped += int64(dropped)
	if read := s.ring.ReadOffset(); s.nextFrame < read {
		s.nextFrame = read
	}

	vadResults := s.scoreNewFrames()
	emit := s.checkBoundaries()
	cb := s.cb
	s.mu.Unlock()

	if cb.OnVADResult != nil {
		for _, r := range vadResults {
			cb.OnVADResult(r)
		}
	}
	for _, seg := range emit {
		s.deliver(cb, seg)
	}
}

// Flush emits any pending debounced segment immediately.
func (s *Segmenter) Flush() {
	s.debounce.Cancel()
	s.mu.Lock()
	seg := s.pending
	s.pending = nil
	cb := s.cb
	s.mu.Unlock()
	if seg != nil {
		s.deliver(cb, seg)
	}
}

// Reset discards all buffered audio and adaptive state. Stream-relative
// timestamps stay monotonic across the reset.
func (s *Segmenter) Reset() {
	s.debounce.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.Reset()
	s.nextFrame = s.ring.ReadOffset()
	s.vad.Reset()
	s.analyzer.Reset()
	s.detector.Reset()
	s.pending = nil
}

// Close flushes nothing, cancels timers, and rejects further input.
func (s *Segmenter) Close() {
	s.debounce.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
}

// Stats returns a snapshot of the segmenter's counters.
func (s *Segmenter) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// scoreNewFrames runs VAD over every complete unscored frame in the ring.
// Must be called with s.mu held.
func (s *Segmenter) scoreNewFrames() []VADResult {
	frameSamples := s.durationToSamples(s.cfg.FrameDuration)
	var results []VADResult

	for s.nextFrame+int64(frameSamples) <= s.ring.TotalWritten() {
		start := int(s.nextFrame - s.ring.ReadOffset())
		frame, err := s.ring.Range(start, start+frameSamples)
		if err != nil {
			// The ring overwrote unscored audio; jump to the oldest sample.
			s.nextFrame = s.ring.ReadOffset()
			continue
		}

		ts := s.samplesToDuration(s.nextFrame)
		var res VADResult
		if s.cfg.DisableVAD {
			res = VADResult{IsSpeech: true, Confidence: 1, EnergyLevel: rms(frame), Timestamp: ts}
		} else {
			res = s.vad.Score(frame, ts)
		}

		rec := frameRecord{
			offset:   s.nextFrame,
			length:   frameSamples,
			spectral: spectralShape(frame, res.EnergyLevel),
			result:   res,
		}
		s.analyzer.Observe(rec)
		s.detector.Observe(rec)

		s.nextFrame += int64(frameSamples)
		s.stats.FramesScored++
		results = append(results, res)
	}
	return results
}

// checkBoundaries runs one buffer-check cycle and returns segments that must
// be emitted right now. Soft-boundary segments are parked on the debounce
// timer instead. Must be called with s.mu held.
func (s *Segmenter) checkBoundaries() []*audio.Segment {
	boundaries := s.detector.Detect(s.ring.ReadOffset(), s.ring.Len())

	for _, b := range boundaries {
		if b.Confidence <= 0.5 {
			continue
		}
		return s.cutAt(b)
	}
	return nil
}

// cutAt extracts the candidate segment ending at boundary b, trims it to the
// voiced region ± the configured overlap, scores it, and decides between
// immediate emission, debounced emission, and silent consumption. Must be
// called with s.mu held.
func (s *Segmenter) cutAt(b audio.Boundary) []*audio.Segment {
	startAbs := s.ring.ReadOffset()
	endAbs := startAbs + int64(b.Position)
	dur := s.samplesToDuration(int64(b.Position))

	// Too short to ever be a segment and not a forced cut: wait for more data.
	if dur < s.cfg.MinSegmentDuration && b.Type != audio.BoundaryHard {
		return nil
	}

	// Silence-only candidates are consumed without emitting so dead air
	// never reaches transcription.
	firstSpeech, lastSpeechEnd, voiced, hasSpeech := s.analyzer.SpeechSpan(startAbs, endAbs)
	if !hasSpeech || s.samplesToDuration(voiced) < s.cfg.MinSpeechDuration {
		s.consume(b.Position, endAbs)
		return nil
	}

	// Stability is scored over the voiced span only; the payload keeps an
	// overlap margin of surrounding audio on each side.
	speechDur := s.samplesToDuration(lastSpeechEnd - firstSpeech)
	report := s.analyzer.Analyze(firstSpeech, lastSpeechEnd, speechDur, s.cfg.MinSegmentDuration, s.cfg.MaxSegmentDuration)

	overlap := int64(s.durationToSamples(s.cfg.SegmentOverlap))
	padStart := max(startAbs, firstSpeech-overlap)
	padEnd := min(endAbs, lastSpeechEnd+overlap)
	padDur := s.samplesToDuration(padEnd - padStart)
	if padDur < s.cfg.MinSegmentDuration && b.Type != audio.BoundaryHard {
		s.consume(b.Position, endAbs)
		return nil
	}

	payload, err := s.ring.Range(int(padStart-startAbs), int(padEnd-startAbs))
	if err != nil {
		slog.Warn("segmenter: boundary outside buffer, skipping", "position", b.Position, "err", err)
		return nil
	}

	s.seq++
	seg := &audio.Segment{
		ID:           fmt.Sprintf("seg-%06d", s.seq),
		Samples:      payload,
		StartTime:    s.samplesToDuration(padStart),
		EndTime:      s.samplesToDuration(padEnd),
		Duration:     padDur,
		IsStable:     report.IsStable,
		Confidence:   report.Confidence,
		VADScore:     report.VADScore,
		BoundaryType: b.Type,
		Metadata: audio.SegmentMetadata{
			Locale:     s.cfg.Locale,
			SampleRate: s.cfg.SampleRate,
			Channels:   1,
			Source:     "mic",
		},
	}
	s.consume(b.Position, endAbs)
	s.stats.SegmentsEmitted++

	if b.Type == audio.BoundaryHard {
		// Forced cuts always emit immediately, flushing any parked segment
		// first to preserve sample order.
		s.debounce.Cancel()
		out := make([]*audio.Segment, 0, 2)
		if s.pending != nil {
			out = append(out, s.pending)
			s.pending = nil
		}
		return append(out, seg)
	}

	// Soft cut: park and debounce. A newer soft cut before the timer fires
	// replaces the parked one only after it is delivered, so order holds.
	if s.pending != nil {
		prev := s.pending
		s.pending = seg
		s.armDebounce()
		return []*audio.Segment{prev}
	}
	s.pending = seg
	s.armDebounce()
	return nil
}

// armDebounce schedules delivery of the parked segment. Must be called with
// s.mu held.
func (s *Segmenter) armDebounce() {
	s.debounce.Trigger(func() {
		s.mu.Lock()
		seg := s.pending
		s.pending = nil
		cb := s.cb
		s.mu.Unlock()
		if seg != nil {
			s.deliver(cb, seg)
		}
	})
}

// consume advances the read cursor past the cut, keeping the configured
// overlap readable, and releases the scored-frame windows up to the cut so a
// boundary is never detected twice.
func (s *Segmenter) consume(position int, cutAbs int64) {
	advance := position - s.durationToSamples(s.cfg.SegmentOverlap)
	if advance < 0 {
		advance = position
	}
	s.ring.Advance(advance)
	s.stats.SamplesConsumed += int64(advance)
	s.analyzer.Release(cutAbs)
	s.detector.Release(cutAbs)
	if s.nextFrame < s.ring.ReadOffset() {
		s.nextFrame = s.ring.ReadOffset()
	}
}

func (s *Segmenter) deliver(cb Callbacks, seg *audio.Segment) {
	if cb.OnSegmentReady != nil {
		cb.OnSegmentReady(seg)
	}
	if cb.OnLocaleSegmentReady != nil && seg.Metadata.Locale != "" {
		cb.OnLocaleSegmentReady(seg)
	}
}

func (s *Segmenter) durationToSamples(d time.Duration) int {
	return int(d * time.Duration(s.cfg.SampleRate) / time.Second)
}

func (s *Segmenter) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(s.cfg.SampleRate)
}

// downmix folds interleaved stereo to mono by averaging channel pairs.
func downmix(samples []float32) []float32 {
	out := make([]float32, len(samples)/2)
	for i := range out {
		out[i] = (samples[2*i] + samples[2*i+1]) / 2
	}
	return out
}
