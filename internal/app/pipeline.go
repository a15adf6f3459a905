package app

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/govorun-ai/govorun/internal/conversation"
	"github.com/govorun-ai/govorun/internal/intent"
	"github.com/govorun-ai/govorun/internal/observe"
	"github.com/govorun-ai/govorun/pkg/audio"
)

// handleSegment receives every segment the segmenter emits. The segment is
// always buffered first, so an interrupted or failed turn can be replayed;
// a turn goroutine is started only when the machine accepts the segment.
func (a *App) handleSegment(seg *audio.Segment) {
	ctx := context.Background()
	a.metrics.SegmentDuration.Record(ctx, seg.Duration.Seconds())
	a.metrics.SegmentsEmitted.Add(ctx, 1, metric.WithAttributes(
		observe.Attr("voiced", strconv.FormatBool(seg.HasVoice())),
	))

	bs := a.buffer.Add(seg)

	if !a.machine.ProcessEvent(conversation.EventSegmentReady, seg) {
		// Busy or paused; the replay loop picks the segment up later.
		slog.Debug("segment deferred to replay",
			"id", seg.ID, "state", a.machine.CurrentState())
		return
	}

	a.runMu.Lock()
	runCtx := a.runCtx
	a.runMu.Unlock()
	if runCtx == nil {
		runCtx = ctx
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runTurn(runCtx, bs.Segment)
	}()
}

// runTurn drives one conversation turn: transcription, intent detection,
// planning, execution, response. Every stage registers with the interrupt
// handler so a barge-in cancels it within the configured budget; after an
// interruption the remaining ProcessEvent calls are rejected and the turn
// unwinds quietly.
func (a *App) runTurn(parent context.Context, seg *audio.Segment) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	opID := a.machine.Interrupts().Register(cancel)
	defer a.machine.Interrupts().Deregister(opID)

	if !a.machine.ProcessEvent(conversation.EventTranscribe, nil) {
		return
	}

	// ── Transcribe ──────────────────────────────────────────────────────
	start := time.Now()
	res, err := a.providers.STT.Transcribe(ctx, seg)
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordProviderError(ctx, a.cfg.Providers.STT.Name, "stt")
		a.buffer.RecordFailure(seg.ID)
		a.machine.ProcessEvent(conversation.EventSystemError, err)
		return
	}

	a.buffer.MarkProcessed(seg.ID)
	if res.Text != "" {
		a.text.AddChunk(res.Text, false, map[string]string{"source": "turn"})
	}
	if !a.machine.ProcessEvent(conversation.EventTranscription, conversation.TranscriptionData{
		Text:       res.Text,
		Confidence: res.Confidence,
	}) {
		return
	}

	// ── Intent ──────────────────────────────────────────────────────────
	det := a.providers.Intent
	if det == nil {
		det = intent.Rules{}
	}
	start = time.Now()
	it, err := det.Detect(ctx, res.Text)
	a.metrics.IntentDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		slog.Warn("intent detection failed, falling back to rules", "err", err)
		it, _ = intent.Rules{}.Detect(ctx, res.Text)
	}
	if !a.machine.ProcessEvent(conversation.EventIntentFound, it.Name) {
		return
	}

	// ── Plan ────────────────────────────────────────────────────────────
	steps, err := a.plan(ctx, it.Name, res.Text)
	if err != nil {
		a.machine.ProcessEvent(conversation.EventSystemError, err)
		return
	}
	if !a.machine.ProcessEvent(conversation.EventPlanReady, steps) {
		return
	}

	// ── Execute ─────────────────────────────────────────────────────────
	response, err := a.execute(ctx, steps)
	if err != nil {
		a.machine.ProcessEvent(conversation.EventSystemError, err)
		return
	}
	if !a.machine.ProcessEvent(conversation.EventExecuted, response) {
		return
	}

	// ── Respond ─────────────────────────────────────────────────────────
	a.machine.ProcessEvent(conversation.EventResponded, nil)
}
