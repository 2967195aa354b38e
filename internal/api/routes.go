package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes configures all API routes.
func SetupRoutes(r chi.Router, h *Handler) {
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Get("/peers", h.GetPeers)

	r.Route("/advertising", func(r chi.Router) {
		r.Get("/", h.GetAdvertising)
		r.With(middleware.Timeout(30*time.Second)).Post("/start", h.StartAdvertising)
		r.With(middleware.Timeout(30*time.Second)).Post("/stop", h.StopAdvertising)
	})

	// Long-lived; no timeout middleware.
	r.Get("/events", h.Events)

	r.Get("/push/endpoint", h.GetPushEndpoint)
}

// NewRouter returns a router serving h.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	SetupRoutes(r, h)
	return r
}
