package config

import (
	"strings"
	"testing"
)

const fullYAML = `
server:
  log_level: debug
  metrics_addr: ":9090"
audio:
  sample_rate: 16000
  channels: 1
  frame_ms: 30
  buffer_seconds: 30
  locale: ru-RU
segmenter:
  sensitivity: 0.35
  min_speech_ms: 250
  min_silence_ms: 800
  min_segment_ms: 500
  max_segment_ms: 5000
  overlap_ms: 100
  stability_threshold: 0.7
  debounce_ms: 300
conversation:
  max_retry_attempts: 3
  barge_in_delay_ms: 200
  max_history: 50
  state_timeouts_ms:
    transcribing: 10000
    respond: 30000
replay:
  max_segments: 100
  max_memory_mb: 50
  max_age_ms: 300000
  backlog_warn_ms: 60000
  mode: priority
  concurrency: 2
  timeout_ms: 10000
text_stream:
  max_chunks: 200
  debounce_ms: 50
  max_chunk_age_ms: 30000
providers:
  stt:
    name: openai
    api_key: sk-test
    model: whisper-1
  stream:
    name: gateway
    base_url: wss://stt.example.com/v1/stream
  intent:
    name: ollama
    model: llama3.2
`

func TestLoadFromReader_Full(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Audio.Locale != "ru-RU" {
		t.Errorf("locale = %q", cfg.Audio.Locale)
	}
	if cfg.Segmenter.Sensitivity != 0.35 {
		t.Errorf("sensitivity = %v", cfg.Segmenter.Sensitivity)
	}
	if got := cfg.Conversation.StateTimeoutsMs["transcribing"]; got != 10000 {
		t.Errorf("transcribing timeout = %d", got)
	}
	if cfg.Replay.Mode != ReplayPriority {
		t.Errorf("replay mode = %q", cfg.Replay.Mode)
	}
	if cfg.Providers.STT.Name != "openai" || cfg.Providers.STT.Model != "whisper-1" {
		t.Errorf("stt provider = %+v", cfg.Providers.STT)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_port: 8080\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/govorun.yaml"); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"negative sample rate", func(c *Config) { c.Audio.SampleRate = -1 }},
		{"too many channels", func(c *Config) { c.Audio.Channels = 3 }},
		{"sensitivity out of range", func(c *Config) { c.Segmenter.Sensitivity = 1.0 }},
		{"stability out of range", func(c *Config) { c.Segmenter.StabilityThreshold = 1.2 }},
		{"min above max segment", func(c *Config) {
			c.Segmenter.MinSegmentMs = 6000
			c.Segmenter.MaxSegmentMs = 5000
		}},
		{"negative retries", func(c *Config) { c.Conversation.MaxRetryAttempts = -1 }},
		{"unknown state timeout", func(c *Config) {
			c.Conversation.StateTimeoutsMs = map[string]int{"thinking": 1000}
		}},
		{"bad replay mode", func(c *Config) { c.Replay.Mode = "lifo" }},
		{"negative concurrency", func(c *Config) { c.Replay.Concurrency = -2 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
		})
	}
}

func TestValidate_ZeroConfigIsValid(t *testing.T) {
	if err := Validate(&Config{}); err != nil {
		t.Fatalf("Validate on zero config: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	cfg.Server.LogLevel = "verbose"
	cfg.Replay.Mode = "lifo"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "replay.mode") {
		t.Errorf("joined error missing failures: %v", msg)
	}
}
