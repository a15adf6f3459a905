package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/govorun-ai/govorun/internal/config"
	"github.com/govorun-ai/govorun/internal/conversation"
	"github.com/govorun-ai/govorun/internal/observe"
	"github.com/govorun-ai/govorun/internal/textstream"
	"github.com/govorun-ai/govorun/pkg/audio"
	"github.com/govorun-ai/govorun/pkg/provider/stt"
	sttmock "github.com/govorun-ai/govorun/pkg/provider/stt/mock"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1
	cfg.TextStream.DebounceMs = 10
	cfg.Replay.BacklogWarnMs = 60000
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func voicedSegment(id string) *audio.Segment {
	return &audio.Segment{
		ID:         id,
		Samples:    make([]float32, 16000),
		Duration:   time.Second,
		VADScore:   0.9,
		Confidence: 0.8,
		IsStable:   true,
	}
}

func newTestApp(t *testing.T, providers Providers, opts ...Option) *App {
	t.Helper()
	opts = append(opts, WithMetrics(testMetrics(t)))
	a, err := New(testConfig(), providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func waitState(t *testing.T, a *App, want conversation.State) {
	t.Helper()
	waitFor(t, func() bool { return a.machine.CurrentState() == want },
		"machine did not reach state "+string(want))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNew_RequiresSTTProvider(t *testing.T) {
	if _, err := New(testConfig(), Providers{}); err == nil {
		t.Fatal("New accepted a nil STT provider")
	}
}

func TestSegmenterConfig_PassesLocaleThroughUnscaled(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.Locale = "ru-RU"
	cfg.Segmenter.MinSilenceMs = 400

	sc := segmenterConfig(cfg)
	if sc.Locale != "ru-RU" {
		t.Errorf("Locale = %q, want ru-RU", sc.Locale)
	}
	// The segmenter applies the locale profile on construction; scaling the
	// silence floor here as well would compound it.
	if sc.Boundary.MinSilence != 400*time.Millisecond {
		t.Errorf("MinSilence = %s, want the configured 400ms unscaled", sc.Boundary.MinSilence)
	}
}

func TestApp_TurnFlow(t *testing.T) {
	var mu sync.Mutex
	var updates []textstream.Update

	provider := &sttmock.Provider{Results: []stt.Result{{Text: "what time is it", IsFinal: true, Confidence: 0.92}}}
	a := newTestApp(t, Providers{STT: provider},
		WithTextSink(func(u textstream.Update) {
			mu.Lock()
			updates = append(updates, u)
			mu.Unlock()
		}),
	)

	if !a.machine.ProcessEvent(conversation.EventStart, nil) {
		t.Fatal("START rejected")
	}

	a.handleSegment(voicedSegment("seg-1"))
	waitFor(t, func() bool { return a.BufferStats().Processed == 1 },
		"segment never marked processed")
	waitState(t, a, conversation.StateListening)

	if got := len(provider.Calls()); got != 1 {
		t.Errorf("transcribe calls = %d, want 1", got)
	}

	// Stabilized text reaches the sink after the debounce.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(updates)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("no text update delivered")
	}
	if updates[0].Text != "what time is it" {
		t.Errorf("update text = %q", updates[0].Text)
	}
}

func TestApp_TranscribeFailureKeepsSegmentForReplay(t *testing.T) {
	var mu sync.Mutex
	fail := true
	provider := &sttmock.Provider{TranscribeFunc: func(ctx context.Context, seg *audio.Segment) (stt.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return stt.Result{}, errors.New("backend down")
		}
		return stt.Result{Text: "recovered", IsFinal: true}, nil
	}}

	a := newTestApp(t, Providers{STT: provider})
	a.machine.ProcessEvent(conversation.EventStart, nil)

	a.handleSegment(voicedSegment("seg-1"))
	waitState(t, a, conversation.StateError)

	stats := a.BufferStats()
	if stats.FailedSegments != 1 {
		t.Errorf("failed segments = %d, want 1", stats.FailedSegments)
	}
	if stats.Segments != 1 {
		t.Errorf("buffered segments = %d, want 1 (kept for replay)", stats.Segments)
	}

	// The backend recovers; a replay sweep drains the segment.
	mu.Lock()
	fail = false
	mu.Unlock()

	summary, err := a.engine.StartReplay(context.Background(), a.replayHandler)
	if err != nil {
		t.Fatalf("StartReplay: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Errorf("replay succeeded = %d, want 1", summary.Succeeded)
	}
	if got := a.BufferStats().Processed; got != 1 {
		t.Errorf("processed after replay = %d, want 1", got)
	}
}

func TestApp_InterruptCancelsExecution(t *testing.T) {
	execStarted := make(chan struct{})
	execDone := make(chan error, 1)

	provider := &sttmock.Provider{Results: []stt.Result{{Text: "play some music", IsFinal: true}}}
	a := newTestApp(t, Providers{STT: provider},
		WithExecutor(func(ctx context.Context, steps []string) (string, error) {
			close(execStarted)
			<-ctx.Done()
			execDone <- ctx.Err()
			return "", ctx.Err()
		}),
	)
	a.machine.ProcessEvent(conversation.EventStart, nil)

	a.handleSegment(voicedSegment("seg-1"))

	select {
	case <-execStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("execution never started")
	}

	if !a.Interrupt() {
		t.Fatal("interrupt rejected")
	}
	waitState(t, a, conversation.StateInterrupted)

	select {
	case err := <-execDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("execution ended with %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("execution was not cancelled")
	}
}

func TestApp_ProcessAudioFeedsStreamSession(t *testing.T) {
	provider := &sttmock.Provider{}
	a := newTestApp(t, Providers{STT: provider})

	sess := sttmock.NewSession(4)
	a.runMu.Lock()
	a.session = sess
	a.runMu.Unlock()

	a.ProcessAudio(make([]float32, 480))

	if len(sess.SentSamples) != 1 {
		t.Errorf("stream received %d payloads, want 1", len(sess.SentSamples))
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	provider := &sttmock.Provider{}
	a := newTestApp(t, Providers{STT: provider})

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
