package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/donation-tracker/internal/api/handlers"
	"github.com/dvloznov/donation-tracker/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers served by the router.
type Handlers struct {
	Runs    *handlers.RunsHandler
	Sources *handlers.SourcesHandler
	Imports *handlers.ImportsHandler
}

// NewRouter builds the HTTP API. /health and /metrics are not authenticated.
func NewRouter(h Handlers, log zerolog.Logger, authToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.Metrics,
		middleware.CORS,
	)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(authToken))

		r.Post("/runs", h.Runs.EnqueueRuns)
		r.Get("/runs", h.Runs.ListRuns)
		r.Get("/runs/{id}", h.Runs.GetRun)

		r.Get("/sources", h.Sources.ListSources)

		r.Post("/imports", h.Imports.CreateImport)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
