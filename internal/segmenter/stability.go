package segmenter

import "time"

// frameRecord pairs a scored frame with its position in the sample stream.
// The analyzer and boundary detector both work over the same record window.
type frameRecord struct {
	offset   int64 // absolute sample index of the frame start
	length   int   // frame length in samples
	spectral float64
	result   VADResult
}

// StabilityConfig tunes the segment readiness scoring. Zero values are
// replaced with defaults by [NewStabilityAnalyzer].
type StabilityConfig struct {
	// Threshold is the combined confidence at or above which a segment is
	// marked stable. Default: 0.7.
	Threshold float64

	// Window bounds the frame-record history; the oldest records are evicted
	// once the window is full. Default: 200.
	Window int

	// Per-criterion minimums. Each criterion that passes contributes 0.25 to
	// the combined confidence. Defaults: 0.8 / 0.7 / 0.6.
	VADConsistencyMin   float64
	EnergyStabilityMin  float64
	SpectralStabilityMin float64
}

func (c *StabilityConfig) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.7
	}
	if c.Window <= 0 {
		c.Window = 200
	}
	if c.VADConsistencyMin <= 0 {
		c.VADConsistencyMin = 0.8
	}
	if c.EnergyStabilityMin <= 0 {
		c.EnergyStabilityMin = 0.7
	}
	if c.SpectralStabilityMin <= 0 {
		c.SpectralStabilityMin = 0.6
	}
}

// StabilityReport is the outcome of scoring one candidate segment.
type StabilityReport struct {
	// Confidence is the combined score in [0, 1]: 0.25 per passed criterion.
	Confidence float64

	// IsStable is Confidence >= the configured threshold.
	IsStable bool

	// VADScore is the mean VAD speech fraction over the candidate's frames,
	// carried onto the emitted segment.
	VADScore float64

	// Individual criterion verdicts, retained for diagnostics.
	VADConsistent    bool
	EnergyStable     bool
	SpectralStable   bool
	DurationInBounds bool
}

// StabilityAnalyzer scores a candidate segment's readiness from the sliding
// window of scored frames it has observed. Owned and serialised by the
// segmenter; not safe for concurrent use.
type StabilityAnalyzer struct {
	cfg     StabilityConfig
	records []frameRecord
}

// NewStabilityAnalyzer creates an analyzer with the given configuration.
func NewStabilityAnalyzer(cfg StabilityConfig) *StabilityAnalyzer {
	cfg.applyDefaults()
	return &StabilityAnalyzer{
		cfg:     cfg,
		records: make([]frameRecord, 0, cfg.Window),
	}
}

// Observe appends a scored frame to the sliding window, evicting the oldest
// record when the window is full.
func (a *StabilityAnalyzer) Observe(rec frameRecord) {
	if len(a.records) == a.cfg.Window {
		copy(a.records, a.records[1:])
		a.records = a.records[:len(a.records)-1]
	}
	a.records = append(a.records, rec)
}

// Release drops records whose frames end at or before the absolute sample
// offset cutoff. Called after the segmenter advances its read cursor so the
// window never scores consumed audio.
func (a *StabilityAnalyzer) Release(cutoff int64) {
	keep := a.records[:0]
	for _, r := range a.records {
		if r.offset+int64(r.length) > cutoff {
			keep = append(keep, r)
		}
	}
	a.records = keep
}

// Analyze scores the candidate segment spanning the absolute sample range
// [start, end). dur is the candidate's duration; minDur/maxDur are the
// configured segment duration bounds.
func (a *StabilityAnalyzer) Analyze(start, end int64, dur, minDur, maxDur time.Duration) StabilityReport {
	var inRange []frameRecord
	for _, r := range a.records {
		if r.offset >= start && r.offset < end {
			inRange = append(inRange, r)
		}
	}

	rep := StabilityReport{
		DurationInBounds: dur >= minDur && dur <= maxDur,
	}
	if len(inRange) == 0 {
		// Nothing to score against — only the duration criterion can pass.
		if rep.DurationInBounds {
			rep.Confidence = 0.25
		}
		rep.IsStable = rep.Confidence >= a.cfg.Threshold
		return rep
	}

	speech := 0
	energies := make([]float64, len(inRange))
	spectrals := make([]float64, len(inRange))
	for i, r := range inRange {
		if r.result.IsSpeech {
			speech++
		}
		energies[i] = r.result.EnergyLevel
		spectrals[i] = r.spectral
	}
	speechFrac := float64(speech) / float64(len(inRange))
	rep.VADScore = speechFrac

	// VAD consistency: fraction of frames agreeing with the majority verdict.
	consistency := speechFrac
	if consistency < 0.5 {
		consistency = 1 - consistency
	}
	rep.VADConsistent = consistency > a.cfg.VADConsistencyMin
	rep.EnergyStable = stability(energies) > a.cfg.EnergyStabilityMin
	rep.SpectralStable = stability(spectrals) > a.cfg.SpectralStabilityMin

	for _, pass := range []bool{rep.VADConsistent, rep.EnergyStable, rep.SpectralStable, rep.DurationInBounds} {
		if pass {
			rep.Confidence += 0.25
		}
	}
	rep.IsStable = rep.Confidence >= a.cfg.Threshold
	return rep
}

// SpeechSpan reports the absolute sample range covered by speech frames
// within [start, end): the offset of the first speech frame, the end offset
// of the last one, and the total number of voiced samples. ok is false when
// the range contains no speech frames.
func (a *StabilityAnalyzer) SpeechSpan(start, end int64) (first, lastEnd, voiced int64, ok bool) {
	first = -1
	for _, r := range a.records {
		if r.offset < start || r.offset >= end || !r.result.IsSpeech {
			continue
		}
		if first < 0 {
			first = r.offset
		}
		lastEnd = r.offset + int64(r.length)
		voiced += int64(r.length)
	}
	return first, lastEnd, voiced, first >= 0
}

// Reset clears the sliding window.
func (a *StabilityAnalyzer) Reset() {
	a.records = a.records[:0]
}

// stability maps the coefficient of variation of xs to [0, 1], where 1 means
// perfectly steady values.
func stability(xs []float64) float64 {
	if len(xs) < 2 {
		return 1
	}
	mean, stddev := meanStddev(xs)
	if mean <= 0 {
		return 1
	}
	return clamp01(1 - stddev/mean)
}
