// Package segmenter turns a continuous stream of raw PCM samples into
// stabilized, transcribable audio segments.
//
// The pipeline inside this package is strictly synchronous: every call to
// [Segmenter.ProcessAudio] appends to the sample ring, scores the new frames
// with the adaptive [VAD], asks the [BoundaryDetector] for candidate cut
// points, and runs the [StabilityAnalyzer] over the first plausible candidate.
// Only the debounced emission of a finished segment is deferred through a
// timer; no stage suspends or blocks.
package segmenter

import (
	"math"
	"time"
)

// VADResult is the per-frame classification produced by [VAD.Score].
type VADResult struct {
	// IsSpeech reports whether the frame crossed the adaptive threshold.
	IsSpeech bool

	// Confidence in [0, 1]; higher the further the combined score sits from
	// the effective threshold.
	Confidence float64

	// NoiseLevel is the adaptively tracked noise floor (RMS) at scoring time.
	NoiseLevel float64

	// EnergyLevel is the frame's RMS energy.
	EnergyLevel float64

	// Timestamp is the stream-relative offset of the frame start.
	Timestamp time.Duration
}

// VADConfig tunes the adaptive voice-activity detector. Zero values are
// replaced with defaults by [NewVAD].
type VADConfig struct {
	// Sensitivity is the base classification threshold on the combined score.
	// Default: 0.35. Lower values classify more frames as speech.
	Sensitivity float64

	// NoiseAdaptRate is the exponential smoothing factor applied to the noise
	// floor on non-speech frames. Default: 0.05.
	NoiseAdaptRate float64

	// EnergyWindow is how many recent frame energies feed the adaptive
	// threshold's variance estimate. Default: 50.
	EnergyWindow int
}

func (c *VADConfig) applyDefaults() {
	if c.Sensitivity <= 0 {
		c.Sensitivity = 0.35
	}
	if c.NoiseAdaptRate <= 0 {
		c.NoiseAdaptRate = 0.05
	}
	if c.EnergyWindow <= 0 {
		c.EnergyWindow = 50
	}
}

// Score-combination weights. Empirically chosen in the source system; kept
// as named constants rather than re-derived.
const (
	weightEnergy      = 0.6
	weightSpectral    = 0.3
	weightTotalEnergy = 0.1
)

// VAD classifies audio frames as speech or non-speech using frame energy over
// an adaptively tracked noise floor combined with a simplified spectral shape
// measure. The detection threshold itself adapts to the recent energy
// variance, so bursty environments demand a stronger signal before a frame
// counts as speech.
//
// VAD keeps per-stream state and is not safe for concurrent use; the owning
// segmenter serialises access.
type VAD struct {
	cfg VADConfig

	noiseFloor  float64
	initialized bool

	// energyHist is a bounded window of recent frame energies backing the
	// adaptive threshold.
	energyHist []float64
}

// NewVAD creates a detector with the given configuration.
func NewVAD(cfg VADConfig) *VAD {
	cfg.applyDefaults()
	return &VAD{
		cfg:        cfg,
		energyHist: make([]float64, 0, cfg.EnergyWindow),
	}
}

// Score classifies a single frame of mono float PCM. ts is the
// stream-relative offset of the frame start.
func (v *VAD) Score(frame []float32, ts time.Duration) VADResult {
	energy := rms(frame)

	// Bootstrap the noise floor from the first frame so the very start of a
	// stream is not misread as speech.
	if !v.initialized {
		v.noiseFloor = energy
		v.initialized = true
	}

	const eps = 1e-6

	// Energy score: how far the frame rises above the noise floor.
	ratio := energy / (v.noiseFloor + eps)
	energyScore := clamp01((ratio - 1.5) / 4.0)

	// Spectral score: the mean absolute first difference approximates the
	// spectral centroid/rolloff ratio — voiced speech concentrates energy in
	// mid frequencies, producing moderate values, while hiss pushes high.
	spectralScore := spectralShape(frame, energy)

	// Total-energy score: absolute loudness contributes a small amount so
	// quiet-but-above-floor artifacts do not dominate.
	totalScore := clamp01(energy / 0.1)

	combined := weightEnergy*energyScore + weightSpectral*spectralScore + weightTotalEnergy*totalScore

	threshold := v.adaptiveThreshold()
	isSpeech := combined >= threshold

	// Track the noise floor and the variance window only while not in
	// speech, otherwise speech energy would inflate both and mask subsequent
	// utterances behind a self-raised threshold.
	if !isSpeech {
		a := v.cfg.NoiseAdaptRate
		v.noiseFloor = (1-a)*v.noiseFloor + a*energy
		v.pushEnergy(energy)
	}

	// Confidence grows with distance from the effective threshold.
	conf := math.Abs(combined-threshold) * 2
	if conf > 1 {
		conf = 1
	}

	return VADResult{
		IsSpeech:    isSpeech,
		Confidence:  conf,
		NoiseLevel:  v.noiseFloor,
		EnergyLevel: energy,
		Timestamp:   ts,
	}
}

// Reset clears all adaptive state. Use when the audio stream restarts so a
// stale noise floor does not bleed into the new stream.
func (v *VAD) Reset() {
	v.noiseFloor = 0
	v.initialized = false
	v.energyHist = v.energyHist[:0]
}

// adaptiveThreshold scales the base sensitivity by the recent energy
// variance: threshold × (1 + min(2, stddev/mean)).
func (v *VAD) adaptiveThreshold() float64 {
	if len(v.energyHist) < 2 {
		return v.cfg.Sensitivity
	}
	mean, stddev := meanStddev(v.energyHist)
	if mean <= 0 {
		return v.cfg.Sensitivity
	}
	scale := stddev / mean
	if scale > 2 {
		scale = 2
	}
	return v.cfg.Sensitivity * (1 + scale)
}

func (v *VAD) pushEnergy(e float64) {
	if len(v.energyHist) == v.cfg.EnergyWindow {
		copy(v.energyHist, v.energyHist[1:])
		v.energyHist = v.energyHist[:len(v.energyHist)-1]
	}
	v.energyHist = append(v.energyHist, e)
}

// spectralShape maps the high-frequency content of a frame to [0, 1] with a
// peak around the mid band typical of voiced speech.
func spectralShape(frame []float32, energy float64) float64 {
	if len(frame) < 2 || energy <= 0 {
		return 0
	}
	var diff float64
	for i := 1; i < len(frame); i++ {
		diff += math.Abs(float64(frame[i] - frame[i-1]))
	}
	diff /= float64(len(frame) - 1)

	// Normalised high-frequency ratio: 0 for DC, →1 for alternating-sign noise.
	hf := diff / (energy*2 + 1e-6)
	if hf > 1 {
		hf = 1
	}
	// Triangular response peaking at hf = 0.5.
	return 1 - math.Abs(hf-0.5)*2
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func meanStddev(xs []float64) (mean, stddev float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var varsum float64
	for _, x := range xs {
		d := x - mean
		varsum += d * d
	}
	return mean, math.Sqrt(varsum / float64(len(xs)))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
