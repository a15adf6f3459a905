package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/govorun-ai/govorun/internal/config"
)

// capture owns the PortAudio input stream and pumps frames into the pipeline
// until the context is cancelled or Close is called.
type capture struct {
	stream *portaudio.Stream
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// startCapture opens the default input device with the configured format and
// starts a goroutine that reads frames and hands them to sink. Frames are
// passed as raw interleaved samples; the pipeline downmixes per its own
// channel configuration. The sink is called from the capture goroutine, one
// frame at a time.
func startCapture(ctx context.Context, cfg *config.Config, sink func([]float32)) (*capture, error) {
	sampleRate := cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := cfg.Audio.Channels
	if channels <= 0 {
		channels = 1
	}
	frameMs := cfg.Audio.FrameMs
	if frameMs <= 0 {
		frameMs = 20
	}
	frames := sampleRate * frameMs / 1000

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	buffer := make([]float32, frames*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), frames, &buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	slog.Info("audio capture started",
		"sample_rate", sampleRate,
		"channels", channels,
		"frame_ms", frameMs,
	)

	ctx, cancel := context.WithCancel(ctx)
	c := &capture{stream: stream, cancel: cancel}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					// Dropped frames under load; the segmenter copes with gaps.
					slog.Debug("input overflow, frame dropped")
					continue
				}
				if ctx.Err() == nil {
					slog.Error("audio read error", "err", err)
				}
				return
			}
			frame := make([]float32, len(buffer))
			copy(frame, buffer)
			sink(frame)
		}
	}()
	return c, nil
}

// Close stops the capture goroutine and releases the PortAudio stream.
func (c *capture) Close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.stream.Abort()
		c.wg.Wait()
		_ = c.stream.Close()
		_ = portaudio.Terminate()
	})
}
