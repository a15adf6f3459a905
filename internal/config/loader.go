package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":    {"openai", "mock"},
	"stream": {"gateway", "mock"},
	"intent": {"openai", "anthropic", "ollama", "mistral", "groq", "rules"},
}

// validStateNames mirrors the conversation state set for timeout validation.
var validStateNames = []string{
	"idle", "listening", "utterance-detected", "transcribing", "intent",
	"plan", "execute", "respond", "interrupted", "error", "paused", "shutdown",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}

	// Segmenter
	if s := cfg.Segmenter.Sensitivity; s < 0 || s >= 1 {
		errs = append(errs, fmt.Errorf("segmenter.sensitivity %.2f is out of range [0, 1)", s))
	}
	if s := cfg.Segmenter.StabilityThreshold; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("segmenter.stability_threshold %.2f is out of range [0, 1]", s))
	}
	if cfg.Segmenter.MinSegmentMs > 0 && cfg.Segmenter.MaxSegmentMs > 0 &&
		cfg.Segmenter.MinSegmentMs >= cfg.Segmenter.MaxSegmentMs {
		errs = append(errs, fmt.Errorf("segmenter.min_segment_ms %d must be below max_segment_ms %d",
			cfg.Segmenter.MinSegmentMs, cfg.Segmenter.MaxSegmentMs))
	}

	// Conversation
	if cfg.Conversation.MaxRetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_retry_attempts %d must not be negative", cfg.Conversation.MaxRetryAttempts))
	}
	for name, ms := range cfg.Conversation.StateTimeoutsMs {
		if !slices.Contains(validStateNames, name) {
			errs = append(errs, fmt.Errorf("conversation.state_timeouts_ms: unknown state %q", name))
		}
		if ms < 0 {
			errs = append(errs, fmt.Errorf("conversation.state_timeouts_ms.%s %d must not be negative", name, ms))
		}
	}

	// Replay
	if cfg.Replay.Mode != "" && !cfg.Replay.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("replay.mode %q is invalid; valid values: sequential, priority", cfg.Replay.Mode))
	}
	if cfg.Replay.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("replay.concurrency %d must not be negative", cfg.Replay.Concurrency))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stream", cfg.Providers.Stream.Name)
	validateProviderName("intent", cfg.Providers.Intent.Name)

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" && cfg.Providers.Stream.Name == "" {
		slog.Warn("no transcription provider configured; buffered segments cannot be replayed")
	}
	if cfg.Providers.Intent.Name == "" {
		slog.Warn("providers.intent is empty; falling back to rule-based intent detection")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
