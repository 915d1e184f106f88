package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/uebax/internal/recorder"
	"github.com/gyaneshwarpardhi/uebax/internal/report"
	"github.com/gyaneshwarpardhi/uebax/internal/store"
)

// Deps are the handler dependencies. Reload may be nil when rules come from
// built-in defaults rather than a file.
type Deps struct {
	Recorder *recorder.Recorder
	Events   store.EventStore
	Alerts   store.AlertStore
	Reporter *report.Reporter
	Reload   func(ctx context.Context) error
	Pingers  map[string]store.Pinger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
}

// New creates the HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{Deps: d}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.recordEvent)
		r.Post("/events/batch", h.recordBatch)
		r.Post("/events/{id}/replay", h.replayEvent)
		r.Get("/events", h.listEvents)
		r.Get("/alerts", h.listAlerts)
		r.Get("/dashboard/stats", h.dashboardStats)
		r.Get("/rules", h.listRules)
		r.Post("/rules/reload", h.reloadRules)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}
