// Command govorun runs the voice conversation pipeline against the default
// microphone: adaptive segmentation, turn lifecycle with barge-in, segment
// replay, and stabilized live text.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/govorun-ai/govorun/internal/app"
	"github.com/govorun-ai/govorun/internal/config"
	"github.com/govorun-ai/govorun/internal/intent"
	"github.com/govorun-ai/govorun/internal/observe"
	"github.com/govorun-ai/govorun/internal/resilience"
	"github.com/govorun-ai/govorun/internal/textstream"
	"github.com/govorun-ai/govorun/pkg/provider/stt"
	sttmock "github.com/govorun-ai/govorun/pkg/provider/stt/mock"
	sttopenai "github.com/govorun-ai/govorun/pkg/provider/stt/openai"
	sttstream "github.com/govorun-ai/govorun/pkg/provider/stt/stream"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "govorun: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "govorun: %v\n", err)
		}
		return 1
	}
	applyEnvKeys(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("govorun starting",
		"config", *configPath,
		"locale", cfg.Audio.Locale,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry SDK ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.Init(ctx, observe.Config{
		ServiceName: "govorun",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg, providers,
		app.WithTextSink(func(u textstream.Update) {
			fmt.Printf("\r> %s", u.Text)
		}),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Changed() {
			return
		}
		if d.LogLevelChanged {
			slog.SetDefault(newLogger(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SegmenterChanged || d.TextStreamChanged || d.ReplayChanged {
			slog.Info("pipeline tuning changed; restart to apply",
				"segmenter", d.SegmenterChanged,
				"text_stream", d.TextStreamChanged,
				"replay", d.ReplayChanged)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Microphone capture ────────────────────────────────────────────────────
	capture, err := startCapture(ctx, cfg, application.ProcessAudio)
	if err != nil {
		slog.Error("failed to open audio capture", "err", err)
		return 1
	}
	defer capture.Close()

	slog.Info("pipeline ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Batch transcription ───────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	// ── Streaming transcription ───────────────────────────────────────────────

	reg.RegisterStream("gateway", func(entry config.ProviderEntry) (stt.StreamProvider, error) {
		var opts []sttstream.Option
		if entry.APIKey != "" {
			opts = append(opts, sttstream.WithToken(entry.APIKey))
		}
		p, err := sttstream.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return sttstream.NewRedialer(p), nil
	})

	reg.RegisterStream("mock", func(config.ProviderEntry) (stt.StreamProvider, error) {
		return &sttmock.StreamProvider{}, nil
	})

	// ── Intent detection ──────────────────────────────────────────────────────
	// Cloud backends share the APIKey + BaseURL pattern; ollama is a local
	// server addressed by BaseURL alone. Every LLM detector is chained with
	// the rule-based fallback so intent survives provider outages.

	for _, providerName := range []string{"openai", "anthropic", "mistral", "groq"} {
		reg.RegisterIntent(providerName, func(entry config.ProviderEntry) (intent.Detector, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			llm, err := intent.NewLLM(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return intent.Chain{llm, intent.Rules{}}, nil
		})
	}

	reg.RegisterIntent("ollama", func(entry config.ProviderEntry) (intent.Detector, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		llm, err := intent.NewLLM("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return intent.Chain{llm, intent.Rules{}}, nil
	})

	reg.RegisterIntent("rules", func(config.ProviderEntry) (intent.Detector, error) {
		return intent.Rules{}, nil
	})
}

// buildProviders instantiates the providers named in cfg and returns them in
// an [app.Providers] struct. The batch transcription provider is wrapped in a
// circuit breaker so a flapping backend degrades to buffered replay instead
// of hammering the API.
func buildProviders(cfg *config.Config, reg *config.Registry) (app.Providers, error) {
	var ps app.Providers

	name := cfg.Providers.STT.Name
	if name == "" {
		return ps, fmt.Errorf("providers.stt.name is required")
	}
	p, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return ps, fmt.Errorf("create stt provider %q: %w", name, err)
	}
	ps.STT = resilience.NewSTTFallback(p, name, resilience.FailoverConfig{})
	slog.Info("provider created", "kind", "stt", "name", name)

	if name := cfg.Providers.Stream.Name; name != "" {
		p, err := reg.CreateStream(cfg.Providers.Stream)
		if err != nil {
			return ps, fmt.Errorf("create stream provider %q: %w", name, err)
		}
		ps.Stream = p
		slog.Info("provider created", "kind", "stream", "name", name)
	}

	if name := cfg.Providers.Intent.Name; name != "" {
		p, err := reg.CreateIntent(cfg.Providers.Intent)
		if err != nil {
			return ps, fmt.Errorf("create intent provider %q: %w", name, err)
		}
		ps.Intent = p
		slog.Info("provider created", "kind", "intent", "name", name)
	}

	return ps, nil
}

// applyEnvKeys fills empty API key fields from the environment, so secrets
// can stay out of the YAML file.
func applyEnvKeys(cfg *config.Config) {
	fill := func(entry *config.ProviderEntry, envVar string) {
		if entry.APIKey == "" {
			entry.APIKey = os.Getenv(envVar)
		}
	}
	fill(&cfg.Providers.STT, "GOVORUN_STT_API_KEY")
	fill(&cfg.Providers.Stream, "GOVORUN_STREAM_TOKEN")
	fill(&cfg.Providers.Intent, strings.ToUpper(cfg.Providers.Intent.Name)+"_API_KEY")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
