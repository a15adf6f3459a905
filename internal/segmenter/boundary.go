package segmenter

import (
	"sort"
	"time"

	"github.com/govorun-ai/govorun/pkg/audio"
)

// BoundaryConfig tunes the candidate cut-point search. Zero values are
// replaced with defaults by [NewBoundaryDetector].
type BoundaryConfig struct {
	// SampleRate converts sample offsets to durations. Required.
	SampleRate int

	// MinSilence is the silence run length that produces a pause boundary.
	// Default: 800ms.
	MinSilence time.Duration

	// EnergyDropRatio is the window-to-window energy ratio below which an
	// energy-drop boundary is produced. Default: 0.3.
	EnergyDropRatio float64

	// MinSeparation is the minimum spacing between reported boundaries;
	// closer candidates are de-duplicated keeping the most confident one.
	// Default: 100ms.
	MinSeparation time.Duration

	// MaxSegmentDuration forces a hard boundary once the buffered audio
	// reaches this length. Default: 5s.
	MaxSegmentDuration time.Duration
}

func (c *BoundaryConfig) applyDefaults() {
	if c.MinSilence <= 0 {
		c.MinSilence = 800 * time.Millisecond
	}
	if c.EnergyDropRatio <= 0 {
		c.EnergyDropRatio = 0.3
	}
	if c.MinSeparation <= 0 {
		c.MinSeparation = 100 * time.Millisecond
	}
	if c.MaxSegmentDuration <= 0 {
		c.MaxSegmentDuration = 5 * time.Second
	}
}

// BoundaryDetector finds candidate cut points inside the accumulated sample
// buffer: pause boundaries (a silence run of at least MinSilence), energy-drop
// boundaries (sharp window-to-window energy fall), and forced max-duration
// boundaries. Owned and serialised by the segmenter.
type BoundaryDetector struct {
	cfg     BoundaryConfig
	records []frameRecord
}

// NewBoundaryDetector creates a detector with the given configuration.
func NewBoundaryDetector(cfg BoundaryConfig) *BoundaryDetector {
	cfg.applyDefaults()
	return &BoundaryDetector{cfg: cfg}
}

// Observe appends a scored frame to the detector's window.
func (d *BoundaryDetector) Observe(rec frameRecord) {
	d.records = append(d.records, rec)
}

// Release drops records whose frames end at or before the absolute sample
// offset cutoff.
func (d *BoundaryDetector) Release(cutoff int64) {
	keep := d.records[:0]
	for _, r := range d.records {
		if r.offset+int64(r.length) > cutoff {
			keep = append(keep, r)
		}
	}
	d.records = keep
}

// Reset clears the detector's window.
func (d *BoundaryDetector) Reset() {
	d.records = d.records[:0]
}

// Detect returns candidate boundaries for the current buffer contents, sorted
// by position and de-duplicated with the configured minimum separation.
// readOffset is the ring's absolute read-cursor index; buffered is the number
// of unread samples. Positions are relative to the read cursor.
func (d *BoundaryDetector) Detect(readOffset int64, buffered int) []audio.Boundary {
	var out []audio.Boundary
	out = append(out, d.pauseBoundaries(readOffset)...)
	out = append(out, d.energyDropBoundaries(readOffset)...)

	maxSamples := d.durationToSamples(d.cfg.MaxSegmentDuration)
	if buffered >= maxSamples {
		out = append(out, audio.Boundary{
			Position:   maxSamples,
			Type:       audio.BoundaryHard,
			Confidence: 1.0,
			Reason:     audio.ReasonMaxDuration,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return d.dedupe(out)
}

// pauseBoundaries scans for maximal runs of non-speech frames of at least
// MinSilence and cuts at the middle of each run.
func (d *BoundaryDetector) pauseBoundaries(readOffset int64) []audio.Boundary {
	var out []audio.Boundary

	runStart := -1
	flush := func(endIdx int) {
		if runStart < 0 {
			return
		}
		first := d.records[runStart]
		last := d.records[endIdx-1]
		runSamples := last.offset + int64(last.length) - first.offset
		runDur := d.samplesToDuration(runSamples)
		if runDur >= d.cfg.MinSilence {
			mid := first.offset + runSamples/2
			pos := int(mid - readOffset)
			if pos > 0 {
				extra := float64(runDur-d.cfg.MinSilence) / float64(d.cfg.MinSilence)
				out = append(out, audio.Boundary{
					Position:   pos,
					Type:       audio.BoundarySoft,
					Confidence: 0.6 + 0.4*clamp01(extra),
					Reason:     audio.ReasonPause,
				})
			}
		}
		runStart = -1
	}

	for i, r := range d.records {
		if !r.result.IsSpeech {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(d.records))
	return out
}

// energyDropBoundaries reports cut points where frame energy falls below
// EnergyDropRatio of the preceding frame's energy.
func (d *BoundaryDetector) energyDropBoundaries(readOffset int64) []audio.Boundary {
	var out []audio.Boundary
	for i := 1; i < len(d.records); i++ {
		prev := d.records[i-1].result.EnergyLevel
		cur := d.records[i].result.EnergyLevel
		if prev <= 0 {
			continue
		}
		// Only meaningful when dropping out of actual speech energy.
		if !d.records[i-1].result.IsSpeech {
			continue
		}
		if cur/prev < d.cfg.EnergyDropRatio {
			pos := int(d.records[i].offset - readOffset)
			if pos > 0 {
				out = append(out, audio.Boundary{
					Position:   pos,
					Type:       audio.BoundarySoft,
					Confidence: 0.55,
					Reason:     audio.ReasonEnergyDrop,
				})
			}
		}
	}
	return out
}

// dedupe removes boundaries closer than MinSeparation to a kept predecessor,
// preferring the more confident candidate. Input must be position-sorted.
func (d *BoundaryDetector) dedupe(bs []audio.Boundary) []audio.Boundary {
	if len(bs) < 2 {
		return bs
	}
	minSep := d.durationToSamples(d.cfg.MinSeparation)
	out := bs[:1]
	for _, b := range bs[1:] {
		last := &out[len(out)-1]
		if b.Position-last.Position < minSep {
			if b.Confidence > last.Confidence {
				*last = b
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

func (d *BoundaryDetector) durationToSamples(dur time.Duration) int {
	return int(dur * time.Duration(d.cfg.SampleRate) / time.Second)
}

func (d *BoundaryDetector) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(d.cfg.SampleRate)
}
