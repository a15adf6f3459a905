package segmenter

import (
	"testing"
	"time"

	"github.com/govorun-ai/govorun/pkg/audio"
)

const testRate = 16000

func boundaryDetector(t *testing.T, cfg BoundaryConfig) *BoundaryDetector {
	t.Helper()
	cfg.SampleRate = testRate
	return NewBoundaryDetector(cfg)
}

// observeRun feeds count frames with the given speech flag and energy,
// starting at offset; returns the offset after the run.
func observeRun(d *BoundaryDetector, offset int64, count int, speech bool, energy float64) int64 {
	const frame = 480 // 30ms at 16k
	for i := 0; i < count; i++ {
		d.Observe(frameRecord{
			offset: offset,
			length: frame,
			result: VADResult{IsSpeech: speech, EnergyLevel: energy},
		})
		offset += frame
	}
	return offset
}

func TestBoundary_PauseAfterSpeech(t *testing.T) {
	d := boundaryDetector(t, BoundaryConfig{MinSilence: 600 * time.Millisecond})

	off := observeRun(d, 0, 20, true, 0.2) // 600ms speech
	observeRun(d, off, 30, false, 0.0)     // 900ms silence

	bs := d.Detect(0, 50*480)
	var pause *audio.Boundary
	for i := range bs {
		if bs[i].Reason == audio.ReasonPause {
			pause = &bs[i]
		}
	}
	if pause == nil {
		t.Fatalf("no pause boundary in %+v", bs)
	}
	if pause.Type != audio.BoundarySoft {
		t.Errorf("pause boundary type = %s, want soft", pause.Type)
	}
	if pause.Confidence <= 0.5 {
		t.Errorf("pause confidence = %.2f, want > 0.5", pause.Confidence)
	}
	// Cut lands inside the silence run.
	if pause.Position <= 20*480 || pause.Position >= 50*480 {
		t.Errorf("pause position %d outside silence run", pause.Position)
	}
}

func TestBoundary_ShortSilenceNoPause(t *testing.T) {
	d := boundaryDetector(t, BoundaryConfig{MinSilence: 800 * time.Millisecond})

	off := observeRun(d, 0, 20, true, 0.2)
	observeRun(d, off, 10, false, 0.0) // 300ms — below MinSilence

	for _, b := range d.Detect(0, 30*480) {
		if b.Reason == audio.ReasonPause {
			t.Fatalf("pause boundary from %v of silence", 300*time.Millisecond)
		}
	}
}

func TestBoundary_EnergyDrop(t *testing.T) {
	d := boundaryDetector(t, BoundaryConfig{})

	off := observeRun(d, 0, 10, true, 0.3)
	observeRun(d, off, 5, true, 0.05) // ratio 0.17 < 0.3

	bs := d.Detect(0, 15*480)
	found := false
	for _, b := range bs {
		if b.Reason == audio.ReasonEnergyDrop {
			found = true
			if b.Position != 10*480 {
				t.Errorf("drop position = %d, want %d", b.Position, 10*480)
			}
		}
	}
	if !found {
		t.Fatalf("no energy-drop boundary in %+v", bs)
	}
}

func TestBoundary_ForcedMaxDuration(t *testing.T) {
	d := boundaryDetector(t, BoundaryConfig{MaxSegmentDuration: 2 * time.Second})

	observeRun(d, 0, 100, true, 0.2) // 3s of speech, no pauses

	bs := d.Detect(0, 100*480)
	if len(bs) == 0 {
		t.Fatal("no boundaries for over-long buffer")
	}
	var hard *audio.Boundary
	for i := range bs {
		if bs[i].Type == audio.BoundaryHard {
			hard = &bs[i]
		}
	}
	if hard == nil {
		t.Fatalf("no hard boundary in %+v", bs)
	}
	if hard.Reason != audio.ReasonMaxDuration {
		t.Errorf("hard reason = %s, want max-duration", hard.Reason)
	}
	if hard.Position != 2*testRate {
		t.Errorf("hard position = %d, want %d", hard.Position, 2*testRate)
	}
	if hard.Confidence != 1.0 {
		t.Errorf("hard confidence = %.2f, want 1.0", hard.Confidence)
	}
}

func TestBoundary_DedupeKeepsMostConfident(t *testing.T) {
	d := boundaryDetector(t, BoundaryConfig{MinSilence: 600 * time.Millisecond, MinSeparation: 200 * time.Millisecond})

	// Speech then a long pause: the pause midpoint and an energy drop land
	// close together and must be merged.
	off := observeRun(d, 0, 20, true, 0.3)
	observeRun(d, off, 24, false, 0.0)

	bs := d.Detect(0, 44*480)
	minSep := 200 * testRate / 1000
	for i := 1; i < len(bs); i++ {
		if bs[i].Position-bs[i-1].Position < minSep {
			t.Fatalf("boundaries %d and %d closer than min separation: %+v", i-1, i, bs)
		}
	}
}

func TestBoundary_SortedByPosition(t *testing.T) {
	d := boundaryDetector(t, BoundaryConfig{MinSilence: 300 * time.Millisecond, MaxSegmentDuration: time.Second})

	off := observeRun(d, 0, 10, true, 0.3)
	off = observeRun(d, off, 12, false, 0.0)
	off = observeRun(d, off, 10, true, 0.3)
	observeRun(d, off, 12, false, 0.0)

	bs := d.Detect(0, 44*480)
	for i := 1; i < len(bs); i++ {
		if bs[i].Position < bs[i-1].Position {
			t.Fatalf("boundaries not sorted: %+v", bs)
		}
	}
}
