package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)
			r.Post("/reconnect", s.handleReconnect)

			r.Route("/lights", func(r chi.Router) {
				r.Get("/", s.handleGetLights)
				r.Post("/{channel}", s.handleSetLight)
			})

			r.Route("/journal", func(r chi.Router) {
				r.Get("/", s.handleJournal)
				r.Delete("/", s.handleClearJournal)
			})

			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

// handleHealth reports the server and MQTT connection health. A
// disconnected client is reported but does not fail the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	mqttStatus := "connected"
	if err := s.mqtt.HealthCheck(r.Context()); err != nil {
		mqttStatus = s.mqtt.State().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"mqtt":    mqttStatus,
	})
}
