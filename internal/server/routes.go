package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/qualityloop/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.ctrl)
	h.SetLogger(s.logger)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Read-only views
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
		r.Get("/history", h.History)
		r.Get("/alerts", h.ListAlerts)
		r.Get("/patterns", h.ListPatterns)
		r.Get("/deployments", h.ListDeployments)
		r.Get("/abtests", h.ListABTests)

		// Sample intake
		r.Post("/samples", h.PushSamples)

		// Control plane
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(s.cfg.ControlRate, s.cfg.ControlBurst))
			r.Post("/trigger", h.Trigger)
			r.Post("/rollback", h.Rollback)
			r.Delete("/history", h.ClearHistory)
			r.Post("/abtests", h.StartABTest)
			r.Delete("/abtests/{testID}", h.CancelABTest)
		})
	})
}
