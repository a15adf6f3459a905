package segmenter

import (
	"math"
	"testing"
	"time"
)

// sine generates a mono sine wave at the given amplitude.
func sine(freq float64, amp float64, rate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func silence(n int) []float32 {
	return make([]float32, n)
}

func TestVAD_SilenceNotSpeech(t *testing.T) {
	v := NewVAD(VADConfig{})
	for i := 0; i < 20; i++ {
		res := v.Score(silence(480), time.Duration(i)*30*time.Millisecond)
		if res.IsSpeech {
			t.Fatalf("frame %d: silence classified as speech", i)
		}
	}
}

func TestVAD_VoiceAfterSilenceIsSpeech(t *testing.T) {
	v := NewVAD(VADConfig{})
	for i := 0; i < 30; i++ {
		v.Score(silence(480), 0)
	}
	res := v.Score(sine(440, 0.3, 16000, 480), time.Second)
	if !res.IsSpeech {
		t.Fatalf("voiced frame not classified as speech (confidence %.2f)", res.Confidence)
	}
	if res.EnergyLevel <= res.NoiseLevel {
		t.Errorf("energy %.4f not above noise floor %.4f", res.EnergyLevel, res.NoiseLevel)
	}
}

func TestVAD_NoiseFloorAdapts(t *testing.T) {
	v := NewVAD(VADConfig{NoiseAdaptRate: 0.2})
	// Sustained low-level noise should raise the floor toward the noise RMS.
	noise := sine(100, 0.01, 16000, 480)
	var last VADResult
	for i := 0; i < 50; i++ {
		last = v.Score(noise, 0)
	}
	if last.NoiseLevel < 0.005 {
		t.Errorf("noise floor %.5f did not adapt toward noise level", last.NoiseLevel)
	}
}

func TestVAD_ResetClearsState(t *testing.T) {
	v := NewVAD(VADConfig{})
	for i := 0; i < 10; i++ {
		v.Score(sine(440, 0.3, 16000, 480), 0)
	}
	v.Reset()
	if v.initialized || v.noiseFloor != 0 || len(v.energyHist) != 0 {
		t.Error("Reset left adaptive state behind")
	}
}

func TestVAD_ConfidenceBounded(t *testing.T) {
	v := NewVAD(VADConfig{})
	inputs := [][]float32{silence(480), sine(440, 1.0, 16000, 480), sine(3000, 0.05, 16000, 480)}
	for _, in := range inputs {
		res := v.Score(in, 0)
		if res.Confidence < 0 || res.Confidence > 1 {
			t.Errorf("confidence %.3f out of [0, 1]", res.Confidence)
		}
	}
}
