// Package config provides the configuration schema, loader, file watcher,
// and provider registry for the Govorun voice pipeline.
package config

// LogLevel controls log verbosity for the Govorun process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ReplayMode selects the segment replay ordering.
type ReplayMode string

const (
	// ReplaySequential replays segments in arrival order.
	ReplaySequential ReplayMode = "sequential"

	// ReplayPriority replays segments in priority order.
	ReplayPriority ReplayMode = "priority"
)

// IsValid reports whether m is a recognised replay mode.
func (m ReplayMode) IsValid() bool {
	return m == ReplaySequential || m == ReplayPriority
}

// Config is the root configuration structure for Govorun.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Segmenter    SegmenterConfig    `yaml:"segmenter"`
	Conversation ConversationConfig `yaml:"conversation"`
	Replay       ReplayConfig       `yaml:"replay"`
	TextStream   TextStreamConfig   `yaml:"text_stream"`
	Providers    ProvidersConfig    `yaml:"providers"`
}

// ServerConfig holds process-level logging and telemetry settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the address the Prometheus metrics endpoint listens on
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// AudioConfig describes the capture format fed into the segmenter.
type AudioConfig struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the capture stream. 1 or 2; stereo is downmixed.
	Channels int `yaml:"channels"`

	// FrameMs is the VAD analysis frame length in milliseconds.
	FrameMs int `yaml:"frame_ms"`

	// BufferSeconds is the rolling capture window retained for segment
	// extraction.
	BufferSeconds int `yaml:"buffer_seconds"`

	// Locale is the BCP-47 tag of the expected speech (e.g., "ru-RU").
	// Locale-specific segmentation profiles key off this value.
	Locale string `yaml:"locale"`

	// Device selects the capture device by name. Empty uses the system
	// default input.
	Device string `yaml:"device"`
}

// SegmenterConfig holds the VAD and boundary detection tuning surface.
// Zero values fall back to the segmenter's built-in defaults.
type SegmenterConfig struct {
	// Sensitivity is the base VAD decision threshold in (0, 1). Lower
	// values detect speech more eagerly.
	Sensitivity float64 `yaml:"sensitivity"`

	// MinSpeechMs is the minimum voiced duration for a segment to emit.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// MinSilenceMs is the silence run length that forms a pause boundary.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// MinSegmentMs and MaxSegmentMs bound emitted segment durations;
	// reaching the maximum forces a hard cut.
	MinSegmentMs int `yaml:"min_segment_ms"`
	MaxSegmentMs int `yaml:"max_segment_ms"`

	// OverlapMs is the margin carried on both sides of a cut.
	OverlapMs int `yaml:"overlap_ms"`

	// StabilityThreshold is the score at or above which a segment is
	// considered stable.
	StabilityThreshold float64 `yaml:"stability_threshold"`

	// DebounceMs delays soft-boundary emission so a better boundary can
	// supersede it.
	DebounceMs int `yaml:"debounce_ms"`
}

// ConversationConfig tunes the state machine.
type ConversationConfig struct {
	// MaxRetryAttempts caps consecutive error recoveries before shutdown.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// BargeInDelayMs is the budget for cancelling in-flight work on a user
	// interrupt.
	BargeInDelayMs int `yaml:"barge_in_delay_ms"`

	// MaxHistory bounds the diagnostic state-history ring.
	MaxHistory int `yaml:"max_history"`

	// StateTimeoutsMs overrides per-state dwell timeouts, keyed by state
	// name (e.g., "transcribing: 10000").
	StateTimeoutsMs map[string]int `yaml:"state_timeouts_ms"`
}

// ReplayConfig tunes the segment buffer and replay engine.
type ReplayConfig struct {
	// MaxSegments caps the buffered segment count.
	MaxSegments int `yaml:"max_segments"`

	// MaxMemoryMB caps the summed payload size.
	MaxMemoryMB int `yaml:"max_memory_mb"`

	// MaxAgeMs is how long a segment may wait before eviction.
	MaxAgeMs int `yaml:"max_age_ms"`

	// BacklogWarnMs is the pending age that triggers a backlog warning.
	BacklogWarnMs int `yaml:"backlog_warn_ms"`

	// Mode orders replay sweeps.
	Mode ReplayMode `yaml:"mode"`

	// Concurrency bounds simultaneous transcription calls.
	Concurrency int `yaml:"concurrency"`

	// TimeoutMs bounds each transcription call.
	TimeoutMs int `yaml:"timeout_ms"`
}

// TextStreamConfig tunes the transcription display buffer.
type TextStreamConfig struct {
	// MaxChunks bounds the chunk list.
	MaxChunks int `yaml:"max_chunks"`

	// DebounceMs coalesces rapid chunk bursts into one text update.
	DebounceMs int `yaml:"debounce_ms"`

	// MaxChunkAgeMs is how long a chunk contributes to combined text.
	MaxChunkAgeMs int `yaml:"max_chunk_age_ms"`

	// DisableCorrectionDetection appends every chunk without the revision
	// check.
	DisableCorrectionDetection bool `yaml:"disable_correction_detection"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// STT is the batch transcription provider used for segment replay.
	STT ProviderEntry `yaml:"stt"`

	// Stream is the streaming transcription provider feeding live partial
	// hypotheses. Optional; when absent, only batch transcription runs.
	Stream ProviderEntry `yaml:"stream"`

	// Intent is the LLM provider used for intent detection. Optional; when
	// absent, rule-based detection runs alone.
	Intent ProviderEntry `yaml:"intent"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}
