package conversation

import (
	"time"

	"github.com/govorun-ai/govorun/pkg/audio"
)

func voicedSegment() *audio.Segment {
	return &audio.Segment{
		ID:        "seg-test",
		Samples:   make([]float32, 16000),
		StartTime: 0,
		EndTime:   time.Second,
		Duration:  time.Second,
		IsStable:  true,
		VADScore:  0.9,
		Metadata:  audio.SegmentMetadata{SampleRate: 16000, Channels: 1},
	}
}
