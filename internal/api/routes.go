package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the local status API router. The listener binds to
// loopback, so there is no auth layer; everything here is observational or
// an explicit user action relayed by the local UI.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
		r.Post("/sync", h.SyncNow)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", h.QueueStats)
			r.Post("/cleanup", h.Cleanup)
			r.Route("/operations", func(r chi.Router) {
				r.Get("/", h.ListOperations)
				r.Post("/", h.Enqueue)
				r.Get("/{id}", h.GetOperation)
				r.Post("/{id}/resolve", h.Resolve)
			})
		})
	})

	if gatherer != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
