// Package api exposes the status server of a diagnosis run.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/api/handlers"
	"github.com/agentoven/agentoven/rootcause/internal/api/middleware"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
)

const serviceName = "rootcause"

// Options configures the status router.
type Options struct {
	Version  string
	APIKeys  []string
	Metrics  *telemetry.Metrics
	Handlers *handlers.Handlers
	Log      zerolog.Logger
}

// NewRouter creates the HTTP router with all status routes.
func NewRouter(opts Options) http.Handler {
	h := opts.Handlers
	if h == nil {
		h = &handlers.Handlers{Log: opts.Log}
	}
	auth := middleware.NewAPIKeyAuth(opts.APIKeys)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(opts.Log))
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(auth.Middleware)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(opts.Version))

	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/progress", h.GetProgress)
		r.Get("/results/{uuid}", h.GetResult)
		r.Get("/runs/{runID}/results", h.ListRunResults)
		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.StreamEvents)
			r.Get("/recent", h.RecentEvents)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

func versionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": version,
			"service": serviceName,
		})
	}
}
