// Package health serves the pipeline's liveness and readiness endpoints.
//
//   - /healthz answers 200 as long as the process can serve HTTP.
//   - /readyz runs the registered probes (transcription backend wiring,
//     replay backlog age, and whatever else the caller registers) and
//     answers 503 when any probe reports a problem.
//
// Bodies are JSON with a top-level "status" of "ok" or "degraded" and a
// "probes" map carrying each probe's verdict.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout caps a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Check returns nil while the probed part
// of the pipeline is usable and an error describing the degradation
// otherwise. It must honour context cancellation.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// report is the JSON body served by both endpoints.
type report struct {
	Status string            `json:"status"`
	Probes map[string]string `json:"probes,omitempty"`
}

// Handler serves the health endpoints. The probe list is fixed at
// construction, which makes the handler safe for concurrent use.
type Handler struct {
	probes []Probe
}

// New creates a [Handler] that runs the given probes, in order, on each
// /readyz request.
func New(probes ...Probe) *Handler {
	h := &Handler{probes: make([]Probe, len(probes))}
	copy(h.probes, probes)
	return h
}

// Liveness always answers 200. A process that reaches this handler is alive.
func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	serveJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readiness runs every probe under a [probeTimeout] deadline derived from
// the request context and answers 503 when any of them fails.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	rep := report{
		Status: "ok",
		Probes: make(map[string]string, len(h.probes)),
	}
	code := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()

		if err != nil {
			rep.Probes[p.Name] = "degraded: " + err.Error()
			rep.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		rep.Probes[p.Name] = "ok"
	}

	serveJSON(w, code, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Liveness)
	mux.HandleFunc("GET /readyz", h.Readiness)
}

func serveJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
