// Package app wires all Govorun subsystems into a running pipeline.
//
// The App struct owns the full lifecycle: New creates and connects the
// segmenter, conversation machine, replay buffer and engine, and text stream
// buffer; Run starts the live streaming session, the replay loop, and the
// telemetry server; Shutdown tears everything down in order.
//
// For testing, inject mock providers through the Providers struct and
// functional options (WithPlanner, WithExecutor, WithTextSink, WithMetrics).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/govorun-ai/govorun/internal/config"
	"github.com/govorun-ai/govorun/internal/conversation"
	"github.com/govorun-ai/govorun/internal/intent"
	"github.com/govorun-ai/govorun/internal/observe"
	"github.com/govorun-ai/govorun/internal/replay"
	"github.com/govorun-ai/govorun/internal/segmenter"
	"github.com/govorun-ai/govorun/internal/textstream"
	"github.com/govorun-ai/govorun/pkg/audio"
	"github.com/govorun-ai/govorun/pkg/provider/stt"
)

// replayInterval is how often the background replay loop drains pending
// segments and reconciles buffer gauges.
const replayInterval = 15 * time.Second

// Providers holds one interface value per provider slot. STT is required;
// the rest are optional. Populated by main.go via the config registry.
type Providers struct {
	// STT is the batch transcription backend used for turns and replay.
	STT stt.Provider

	// Stream is the optional live streaming backend feeding partial
	// hypotheses into the text buffer.
	Stream stt.StreamProvider

	// Intent classifies finalized transcriptions. Nil falls back to the
	// rule-based detector.
	Intent intent.Detector
}

// PlanFunc turns a classified utterance into execution steps.
type PlanFunc func(ctx context.Context, intentName, transcription string) ([]string, error)

// ExecuteFunc carries out the planned steps and returns the response text.
type ExecuteFunc func(ctx context.Context, steps []string) (string, error)

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg       *config.Config
	providers Providers
	metrics   *observe.Metrics

	seg     *segmenter.Segmenter
	machine *conversation.Machine
	buffer  *replay.Buffer
	engine  *replay.Engine
	text    *textstream.Buffer

	plan     PlanFunc
	execute  ExecuteFunc
	textSink func(textstream.Update)

	// runCtx is the Run lifetime; turn goroutines derive from it.
	runMu   sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	session stt.Session

	// gauge reconciliation against the last buffer snapshot.
	gaugeMu      sync.Mutex
	lastSegments int
	lastBytes    int64

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a Metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPlanner injects the planning collaborator for the Plan stage.
func WithPlanner(fn PlanFunc) Option {
	return func(a *App) { a.plan = fn }
}

// WithExecutor injects the execution collaborator for the Execute stage.
func WithExecutor(fn ExecuteFunc) Option {
	return func(a *App) { a.execute = fn }
}

// WithTextSink registers a consumer for stabilized text updates (the display
// surface).
func WithTextSink(fn func(textstream.Update)) Option {
	return func(a *App) { a.textSink = fn }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	if providers.STT == nil {
		return nil, fmt.Errorf("app: a batch transcription provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.plan == nil {
		a.plan = defaultPlan
	}
	if a.execute == nil {
		a.execute = defaultExecute
	}

	// ── Conversation machine ────────────────────────────────────────────
	a.machine = conversation.NewMachine(conversationConfig(cfg))
	a.machine.SetCallbacks(conversation.Callbacks{
		OnStateChanged: func(from, to conversation.State, ev conversation.Event) {
			a.metrics.RecordTransition(context.Background(), string(from), string(to), string(ev))
			slog.Debug("conversation transition", "from", from, "to", to, "event", ev)
		},
		OnInterrupted: func(snap conversation.ResumeSnapshot) {
			a.metrics.RecordInterruption(context.Background(), string(snap.PreviousState))
		},
		OnInvalidTransition: func(s conversation.State, ev conversation.Event) {
			slog.Debug("conversation event rejected", "state", s, "event", ev)
		},
		OnError: func(errorCount int, data any) {
			slog.Warn("conversation error", "count", errorCount, "cause", data)
		},
		OnShutdown: func() {
			a.runMu.Lock()
			cancel := a.cancel
			a.runMu.Unlock()
			if cancel != nil {
				cancel()
			}
		},
	})

	// ── Replay buffer + engine ──────────────────────────────────────────
	a.buffer = replay.NewBuffer(bufferConfig(cfg), replay.BufferEvents{
		OnSegmentBuffered: func(bs *replay.BufferedSegment) {
			slog.Debug("segment buffered",
				"id", bs.Segment.ID,
				"priority", bs.Priority.String(),
				"duration", bs.Segment.Duration)
		},
		OnBacklogWarning: func(oldest time.Duration, pending int) {
			slog.Warn("replay backlog", "oldest", oldest, "pending", pending)
		},
	})

	engine, err := replay.NewEngine(engineConfig(cfg), a.buffer, replay.EngineEvents{
		OnSegmentReplayed: func(bs *replay.BufferedSegment, text string) {
			a.metrics.RecordReplay(context.Background(), bs.Priority.String(), "ok")
			if text != "" {
				a.text.AddChunk(text, false, map[string]string{"source": "replay"})
			}
		},
		OnSegmentFailed: func(bs *replay.BufferedSegment, err error) {
			a.metrics.RecordReplay(context.Background(), bs.Priority.String(), "error")
			slog.Warn("segment replay failed",
				"id", bs.Segment.ID,
				"retries", bs.RetryCount,
				"err", err)
		},
		OnReplayCompleted: func(s replay.Summary) {
			if s.Attempted > 0 {
				slog.Info("replay sweep complete",
					"attempted", s.Attempted,
					"succeeded", s.Succeeded,
					"failed", s.Failed,
					"elapsed", s.Elapsed)
			}
		},
	})
	if err != nil {
		a.buffer.Close()
		return nil, fmt.Errorf("app: replay engine: %w", err)
	}
	a.engine = engine

	// ── Text stream buffer ──────────────────────────────────────────────
	a.text = textstream.New(textStreamConfig(cfg), textstream.Events{
		OnTextUpdate: func(u textstream.Update) {
			a.metrics.TextUpdates.Add(context.Background(), 1)
			if a.textSink != nil {
				a.textSink(u)
			}
		},
		OnCorrection: func(prev, rev textstream.Chunk) {
			a.metrics.Corrections.Add(context.Background(), 1)
			slog.Info("transcription correction flagged",
				"previous", prev.Text,
				"revision", rev.Text,
				"similarity", rev.Similarity)
		},
	})

	// ── Segmenter ───────────────────────────────────────────────────────
	a.seg = segmenter.New(segmenterConfig(cfg))
	a.seg.SetCallbacks(segmenter.Callbacks{
		OnSegmentReady: a.handleSegment,
		OnLocaleSegmentReady: func(seg *audio.Segment) {
			slog.Debug("locale segment ready", "id", seg.ID, "locale", cfg.Audio.Locale)
		},
	})

	return a, nil
}

// Machine exposes the conversation machine for direct event injection
// (pause, resume, user interrupts).
func (a *App) Machine() *conversation.Machine { return a.machine }

// Interrupt signals a user barge-in.
func (a *App) Interrupt() bool { return a.machine.Interrupt() }

// BufferStats returns a snapshot of the replay buffer counters.
func (a *App) BufferStats() replay.BufferStats { return a.buffer.Stats() }

// ProcessAudio feeds captured PCM into the pipeline: the segmenter always,
// and the live streaming session when one is established.
func (a *App) ProcessAudio(samples []float32) {
	a.seg.ProcessAudio(samples)

	a.runMu.Lock()
	sess := a.session
	a.runMu.Unlock()
	if sess != nil {
		if err := sess.SendAudio(samples); err != nil {
			slog.Debug("stream send failed", "err", err)
		}
	}
}

// Run starts the pipeline and blocks until ctx is cancelled or the
// conversation machine shuts down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runMu.Lock()
	a.runCtx = runCtx
	a.cancel = cancel
	a.runMu.Unlock()
	defer cancel()

	if !a.machine.ProcessEvent(conversation.EventStart, nil) {
		return fmt.Errorf("app: machine refused START in state %s", a.machine.CurrentState())
	}

	// Live streaming session, if a stream provider is configured.
	if a.providers.Stream != nil {
		if err := a.startStreaming(runCtx); err != nil {
			// Streaming is an enhancement; batch transcription still works.
			slog.Error("streaming session unavailable", "err", err)
		}
	}

	// Telemetry endpoint.
	srv := a.startTelemetry()

	// Background replay loop.
	a.wg.Add(1)
	go a.replayLoop(runCtx)

	slog.Info("pipeline running",
		"locale", a.cfg.Audio.Locale,
		"streaming", a.session != nil,
		"metrics_addr", a.cfg.Server.MetricsAddr)

	<-runCtx.Done()

	if srv != nil {
		shutdownCtx, sc := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		sc()
	}

	// Unblock the stream forwarder; its Results channel closes with the
	// session.
	a.runMu.Lock()
	sess := a.session
	a.runMu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}

	a.wg.Wait()
	return ctx.Err()
}

// startStreaming opens the live session and forwards its hypotheses into the
// text buffer.
func (a *App) startStreaming(ctx context.Context) error {
	sess, err := a.providers.Stream.StartStream(ctx, stt.StreamConfig{
		SampleRate:     a.cfg.Audio.SampleRate,
		Channels:       a.cfg.Audio.Channels,
		Language:       a.cfg.Audio.Locale,
		InterimResults: true,
	})
	if err != nil {
		return err
	}

	a.runMu.Lock()
	a.session = sess
	a.runMu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for r := range sess.Results() {
			if r.Text == "" {
				continue
			}
			a.text.AddChunk(r.Text, !r.IsFinal, map[string]string{"source": "stream"})
		}
	}()
	return nil
}

// replayLoop periodically drains pending segments and reconciles the buffer
// gauges against the latest snapshot.
func (a *App) replayLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(replayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reconcileGauges(ctx)
			if len(a.buffer.Pending()) == 0 {
				continue
			}
			if _, err := a.engine.StartReplay(ctx, a.replayHandler); err != nil {
				slog.Warn("replay sweep error", "err", err)
			}
		}
	}
}

// replayHandler transcribes one buffered segment during a replay sweep.
func (a *App) replayHandler(ctx context.Context, seg *audio.Segment) (string, error) {
	start := time.Now()
	res, err := a.providers.STT.Transcribe(ctx, seg)
	a.metrics.ReplayAttemptDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// reconcileGauges records buffered segment/byte deltas since the previous
// snapshot so the up/down counters track the buffer contents.
func (a *App) reconcileGauges(ctx context.Context) {
	stats := a.buffer.Stats()

	a.gaugeMu.Lock()
	dSegments := stats.Segments - a.lastSegments
	dBytes := stats.MemoryBytes - a.lastBytes
	a.lastSegments = stats.Segments
	a.lastBytes = stats.MemoryBytes
	a.gaugeMu.Unlock()

	if dSegments != 0 {
		a.metrics.BufferedSegments.Add(ctx, int64(dSegments))
	}
	if dBytes != 0 {
		a.metrics.BufferedBytes.Add(ctx, dBytes)
	}
}

// Shutdown tears down all subsystems. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down pipeline")

		a.machine.ProcessEvent(conversation.EventShutdown, nil)

		a.runMu.Lock()
		sess := a.session
		cancel := a.cancel
		a.runMu.Unlock()
		if cancel != nil {
			cancel()
		}
		if sess != nil {
			_ = sess.Close()
		}

		a.seg.Close()
		a.machine.Close()
		a.buffer.Close()
		a.text.Close()

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("shutdown complete")
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded")
		}
	})
	return nil
}

// ─── Config mapping ──────────────────────────────────────────────────────────

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// segmenterConfig maps the YAML surface onto the segmenter's tuning struct.
// The locale is passed through untouched; the segmenter applies its own
// locale profile exactly once on construction.
func segmenterConfig(cfg *config.Config) segmenter.Config {
	sc := segmenter.Config{
		SampleRate:         cfg.Audio.SampleRate,
		Channels:           cfg.Audio.Channels,
		Locale:             cfg.Audio.Locale,
		FrameDuration:      ms(cfg.Audio.FrameMs),
		BufferCapacity:     time.Duration(cfg.Audio.BufferSeconds) * time.Second,
		MinSegmentDuration: ms(cfg.Segmenter.MinSegmentMs),
		MaxSegmentDuration: ms(cfg.Segmenter.MaxSegmentMs),
		MinSpeechDuration:  ms(cfg.Segmenter.MinSpeechMs),
		SegmentOverlap:     ms(cfg.Segmenter.OverlapMs),
		DebounceTimeout:    ms(cfg.Segmenter.DebounceMs),
	}
	sc.VAD.Sensitivity = cfg.Segmenter.Sensitivity
	sc.Stability.Threshold = cfg.Segmenter.StabilityThreshold
	sc.Boundary.MinSilence = ms(cfg.Segmenter.MinSilenceMs)
	return sc
}

func conversationConfig(cfg *config.Config) conversation.Config {
	cc := conversation.Config{
		MaxHistory:       cfg.Conversation.MaxHistory,
		MaxRetryAttempts: cfg.Conversation.MaxRetryAttempts,
		BargeInDelay:     ms(cfg.Conversation.BargeInDelayMs),
	}
	if len(cfg.Conversation.StateTimeoutsMs) > 0 {
		cc.StateTimeouts = make(map[conversation.State]time.Duration, len(cfg.Conversation.StateTimeoutsMs))
		for name, v := range cfg.Conversation.StateTimeoutsMs {
			cc.StateTimeouts[conversation.State(name)] = ms(v)
		}
	}
	return cc
}

func bufferConfig(cfg *config.Config) replay.BufferConfig {
	return replay.BufferConfig{
		MaxSegments:    cfg.Replay.MaxSegments,
		MaxMemory:      int64(cfg.Replay.MaxMemoryMB) << 20,
		MaxAge:         ms(cfg.Replay.MaxAgeMs),
		BacklogWarnAge: ms(cfg.Replay.BacklogWarnMs),
	}
}

func engineConfig(cfg *config.Config) replay.EngineConfig {
	return replay.EngineConfig{
		Mode:        replay.Mode(cfg.Replay.Mode),
		Concurrency: cfg.Replay.Concurrency,
		Timeout:     ms(cfg.Replay.TimeoutMs),
	}
}

func textStreamConfig(cfg *config.Config) textstream.Config {
	return textstream.Config{
		MaxChunks:                  cfg.TextStream.MaxChunks,
		DebounceDelay:              ms(cfg.TextStream.DebounceMs),
		MaxChunkAge:                ms(cfg.TextStream.MaxChunkAgeMs),
		DisableCorrectionDetection: cfg.TextStream.DisableCorrectionDetection,
	}
}

// ─── Default collaborators ───────────────────────────────────────────────────

// defaultPlan produces a single acknowledge-and-respond step; real planners
// are injected by the embedding application.
func defaultPlan(_ context.Context, intentName, transcription string) ([]string, error) {
	return []string{fmt.Sprintf("respond to %s: %s", intentName, transcription)}, nil
}

// defaultExecute echoes the plan; real executors are injected by the
// embedding application.
func defaultExecute(_ context.Context, steps []string) (string, error) {
	return strings.Join(steps, "; "), nil
}
