package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/govorun-ai/govorun/internal/health"
	"github.com/govorun-ai/govorun/internal/observe"
)

// startTelemetry serves /metrics, /healthz, and /readyz when a metrics
// address is configured. Returns nil when the endpoint is disabled.
func (a *App) startTelemetry() *http.Server {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return nil
	}

	checks := health.New(
		health.Probe{
			Name: "transcription",
			Check: func(context.Context) error {
				if a.providers.STT == nil {
					return errors.New("no transcription provider configured")
				}
				return nil
			},
		},
		health.Probe{
			Name: "replay_backlog",
			Check: func(context.Context) error {
				stats := a.buffer.Stats()
				warn := ms(a.cfg.Replay.BacklogWarnMs)
				if warn > 0 && stats.OldestPending > warn {
					return fmt.Errorf("oldest pending segment %s exceeds %s",
						stats.OldestPending.Round(time.Millisecond), warn)
				}
				return nil
			},
		},
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		slog.Info("telemetry listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("telemetry server error", "err", err)
		}
	}()
	return srv
}
