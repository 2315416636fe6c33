package handler

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/penshort/insights/internal/middleware"
)

// RouterConfig wires handlers and middleware into a router.
type RouterConfig struct {
	Logger       *slog.Logger
	Service      *Handler
	Health       *HealthHandler
	Metrics      *MetricsHandler
	Insights     *InsightsHandler
	Ops          *OpsHandler
	Admin        middleware.AdminConfig
	RefreshLimit middleware.RefreshLimitConfig
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))

	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Get("/metrics", cfg.Metrics.Metrics)
	}
	r.Get("/", cfg.Service.Info)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/users/{userID}/insights", func(r chi.Router) {
			r.With(middleware.RefreshLimit(cfg.RefreshLimit)).Get("/", cfg.Insights.Get)
			r.Delete("/", cfg.Insights.Invalidate)
		})

		r.Route("/ops/insights", func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.Admin))
			r.Get("/status", cfg.Ops.Status)
			r.Post("/cleanup", cfg.Ops.Cleanup)
			r.Post("/run", cfg.Ops.Run)
		})
	})

	r.NotFound(cfg.Service.NotFound)
	r.MethodNotAllowed(cfg.Service.MethodNotAllowed)

	return r
}
