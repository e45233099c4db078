package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/Proton-105/site-pulse/internal/errors"
	"github.com/Proton-105/site-pulse/internal/lifecycle"
	"github.com/Proton-105/site-pulse/internal/middleware"
	"github.com/Proton-105/site-pulse/pkg/logger"
	"github.com/Proton-105/site-pulse/pkg/metrics"
)

// RouterConfig collects everything the HTTP surface is built from. A nil Admission
// disables rate limiting; a nil Probes answers readiness unconditionally. Idempotency,
// when set, wraps the POST endpoints.
type RouterConfig struct {
	Handlers    *Handlers
	Admission   *middleware.Admission
	Idempotency func(http.Handler) http.Handler
	Probes      lifecycle.HealthChecker
	ErrHandler  *apperrors.Handler
	Log         *slog.Logger
}

// NewRouter registers every route and wraps the mux in the shared middleware chain:
// correlation id, panic recovery, request logging, metrics and CORS.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	limited := func(h http.HandlerFunc) http.Handler {
		if cfg.Admission == nil {
			return h
		}
		return cfg.Admission.Handle(h)
	}

	idempotent := func(h http.HandlerFunc) http.HandlerFunc {
		if cfg.Idempotency == nil {
			return h
		}
		return cfg.Idempotency(h).ServeHTTP
	}

	mux := http.NewServeMux()

	if h := cfg.Handlers; h != nil {
		mux.Handle("POST /api/events", limited(idempotent(h.CollectEvent)))
		mux.Handle("GET /api/events", limited(h.CollectPixel))
		mux.Handle("POST /api/sites", limited(idempotent(h.RegisterSite)))
		mux.Handle("GET /api/sites", limited(h.ListSites))
		mux.Handle("GET /api/sites/{siteId}/stats", limited(h.SiteStats))
		mux.Handle("GET /api/analytics", limited(h.Analytics))
		mux.Handle("GET /analytics.js", limited(h.Script))
		mux.Handle("GET /api/analytics.js", limited(h.Script))
	}

	mux.HandleFunc("GET /healthz", liveness(cfg.Probes))
	mux.HandleFunc("GET /readyz", readiness(cfg.Probes))
	mux.Handle("GET /metrics", metrics.Handler())

	var handler http.Handler = mux
	handler = middleware.CORS(handler)
	handler = middleware.Metrics(handler)
	handler = middleware.Logging(log)(handler)
	handler = middleware.Recovery(log, cfg.ErrHandler)(handler)
	handler = logger.Middleware(handler)

	return handler
}

type probeResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func liveness(probes lifecycle.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probes != nil {
			if err := probes.Liveness(r.Context()); err != nil {
				writeProbe(w, http.StatusServiceUnavailable, probeResponse{Status: err.Error()})
				return
			}
		}
		writeProbe(w, http.StatusOK, probeResponse{Status: "ok"})
	}
}

func readiness(probes lifecycle.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probes == nil {
			writeProbe(w, http.StatusOK, probeResponse{Status: "ok"})
			return
		}

		report, err := probes.Readiness(r.Context())
		if err != nil {
			writeProbe(w, http.StatusServiceUnavailable, probeResponse{Status: "unavailable", Components: report})
			return
		}
		writeProbe(w, http.StatusOK, probeResponse{Status: "ok", Components: report})
	}
}

func writeProbe(w http.ResponseWriter, status int, body probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
