// Package observe provides application-wide observability primitives for
// Govorun: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Init] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Govorun metrics.
const meterName = "github.com/govorun-ai/govorun"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SegmentDuration tracks the audio duration of emitted speech segments.
	SegmentDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// IntentDuration tracks intent detection latency.
	IntentDuration metric.Float64Histogram

	// ReplayAttemptDuration tracks per-segment replay handler latency.
	ReplayAttemptDuration metric.Float64Histogram

	// --- Counters ---

	// StateTransitions counts conversation state transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("event", ...)
	StateTransitions metric.Int64Counter

	// Interruptions counts barge-in interruptions by the state they preempted.
	Interruptions metric.Int64Counter

	// SegmentsEmitted counts speech segments emitted by the segmenter. Use with
	// attribute:
	//   attribute.String("voiced", "true"|"false")
	SegmentsEmitted metric.Int64Counter

	// SegmentsReplayed counts replay attempts by status. Use with attributes:
	//   attribute.String("priority", ...), attribute.String("status", ...)
	SegmentsReplayed metric.Int64Counter

	// TextUpdates counts stabilized text updates flushed downstream.
	TextUpdates metric.Int64Counter

	// Corrections counts flagged transcription corrections.
	Corrections metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// BufferedSegments tracks the number of segments held in the replay buffer.
	BufferedSegments metric.Int64UpDownCounter

	// BufferedBytes tracks the memory occupied by buffered segment audio.
	BufferedBytes metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("govorun.segment.duration",
		metric.WithDescription("Audio duration of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("govorun.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntentDuration, err = m.Float64Histogram("govorun.intent.duration",
		metric.WithDescription("Latency of intent detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReplayAttemptDuration, err = m.Float64Histogram("govorun.replay.attempt.duration",
		metric.WithDescription("Per-segment replay handler latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StateTransitions, err = m.Int64Counter("govorun.conversation.transitions",
		metric.WithDescription("Conversation state transitions by source, target, and event."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("govorun.conversation.interruptions",
		metric.WithDescription("Barge-in interruptions by preempted state."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("govorun.segments.emitted",
		metric.WithDescription("Speech segments emitted by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsReplayed, err = m.Int64Counter("govorun.segments.replayed",
		metric.WithDescription("Replay attempts by priority and status."),
	); err != nil {
		return nil, err
	}
	if met.TextUpdates, err = m.Int64Counter("govorun.textstream.updates",
		metric.WithDescription("Stabilized text updates flushed downstream."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("govorun.textstream.corrections",
		metric.WithDescription("Flagged transcription corrections."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("govorun.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.BufferedSegments, err = m.Int64UpDownCounter("govorun.replay.buffered_segments",
		metric.WithDescription("Segments currently held in the replay buffer."),
	); err != nil {
		return nil, err
	}
	if met.BufferedBytes, err = m.Int64UpDownCounter("govorun.replay.buffered_bytes",
		metric.WithDescription("Memory occupied by buffered segment audio."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("govorun.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition is a convenience method that records a conversation state
// transition with the standard attribute set.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, event string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("event", event),
		),
	)
}

// RecordInterruption is a convenience method that records a barge-in
// interruption counter increment.
func (m *Metrics) RecordInterruption(ctx context.Context, preempted string) {
	m.Interruptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("preempted", preempted)),
	)
}

// RecordReplay is a convenience method that records a replay attempt with the
// standard attribute set.
func (m *Metrics) RecordReplay(ctx context.Context, priority, status string) {
	m.SegmentsReplayed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("priority", priority),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
