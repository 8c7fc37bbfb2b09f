package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/FinSight/internal/middleware"
)

// MountRoutes registers all API routes, with per-endpoint-class rate limits.
func MountRoutes(r chi.Router, h *Handlers, rl *middleware.RateLimiter) {
	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(rl.Handler(middleware.ClassRunStart)).
			Post("/analyses", h.StartAnalysis)
		r.With(rl.Handler(middleware.ClassRunStart)).
			Post("/analyses/{token}/retry", h.RetryAnalysis)

		r.With(rl.Handler(middleware.ClassConfigRead)).
			Get("/analyses/{token}", h.GetStatus)
		r.With(rl.Handler(middleware.ClassConfigRead)).
			Get("/analyses/{token}/reports", h.GetReports)

		r.With(rl.Handler(middleware.ClassAttach)).
			Get("/analyses/{token}/stream", h.hub.HandleStream)

		r.Group(func(r chi.Router) {
			r.Use(rl.Handler(middleware.ClassDefault))
			r.Get("/analyses", h.ListAnalyses)
			r.Post("/analyses/{token}/cancel", h.CancelAnalysis)
			r.Delete("/analyses/{token}", h.DeleteAnalysis)

			r.Get("/ops/connections", h.Connections)
			r.Get("/ops/sessions", h.SessionStats)
			r.Get("/ops/perf", h.PerfStats)
		})
	})
}
