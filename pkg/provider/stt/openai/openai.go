// Package openai provides a batch STT provider backed by the OpenAI audio
// transcription API. Segments are uploaded as in-memory WAV files; the
// provider is the default transcription target for replayed segments, where
// per-call latency matters less than accuracy.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/govorun-ai/govorun/pkg/audio"
	"github.com/govorun-ai/govorun/pkg/provider/stt"
)

const defaultModel = oai.AudioModelWhisper1

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, for self-hosted
// whisper servers exposing the compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the transcription model. The default is whisper-1.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI transcription Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	model := defaultModel
	if cfg.model != "" {
		model = oai.AudioModel(cfg.model)
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Transcribe uploads the segment as a WAV file and returns the recognised
// text. The segment's locale metadata, when set, is passed as the language
// hint.
func (p *Provider) Transcribe(ctx context.Context, seg *audio.Segment) (stt.Result, error) {
	if seg == nil || len(seg.Samples) == 0 {
		return stt.Result{}, fmt.Errorf("openai: segment has no samples")
	}

	rate := seg.Metadata.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	wav, err := audio.EncodeWAV(seg.Samples, rate)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai: encode segment %s: %w", seg.ID, err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model: p.model,
	}
	if lang := primaryLanguage(seg.Metadata.Locale); lang != "" {
		params.Language = oai.String(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai: transcribe segment %s: %w", seg.ID, err)
	}

	return stt.Result{
		Text:     resp.Text,
		IsFinal:  true,
		Language: seg.Metadata.Locale,
	}, nil
}

// primaryLanguage reduces a BCP-47 locale tag to the ISO-639-1 code the
// transcription endpoint expects ("ru-RU" to "ru").
func primaryLanguage(locale string) string {
	for i := 0; i < len(locale); i++ {
		if locale[i] == '-' || locale[i] == '_' {
			return locale[:i]
		}
	}
	return locale
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
