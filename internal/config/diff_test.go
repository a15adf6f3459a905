package config

import "testing"

func TestDiff_NoChanges(t *testing.T) {
	a := &Config{}
	a.Server.LogLevel = LogInfo
	b := &Config{}
	b.Server.LogLevel = LogInfo

	d := Diff(a, b)
	if d.Changed() {
		t.Fatalf("diff of identical configs reports changes: %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	a := &Config{}
	a.Server.LogLevel = LogInfo
	b := &Config{}
	b.Server.LogLevel = LogDebug

	d := Diff(a, b)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Fatalf("diff = %+v, want log level change to debug", d)
	}
}

func TestDiff_SegmenterTuning(t *testing.T) {
	a := &Config{}
	b := &Config{}
	b.Segmenter.Sensitivity = 0.5

	d := Diff(a, b)
	if !d.SegmenterChanged {
		t.Fatal("segmenter tuning change not detected")
	}
	if d.TextStreamChanged || d.ReplayChanged {
		t.Errorf("unrelated sections flagged: %+v", d)
	}
}

func TestDiff_TextStreamAndReplay(t *testing.T) {
	a := &Config{}
	b := &Config{}
	b.TextStream.DebounceMs = 80
	b.Replay.Concurrency = 4

	d := Diff(a, b)
	if !d.TextStreamChanged || !d.ReplayChanged {
		t.Fatalf("diff = %+v, want text stream and replay changes", d)
	}
}
