package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ralflukner/workflow-bolt-sub011/internal/http/handlers"
	httpmiddleware "github.com/ralflukner/workflow-bolt-sub011/internal/http/middleware"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Health             *handlers.HealthHandler
	Sync               *handlers.SyncHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// TriggerLimiter throttles POST /v1/sync and /v1/sync/jobs when set.
	TriggerLimiter *httpmiddleware.TriggerLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}
	r.Group(func(public chi.Router) {
		public.Get("/health", health.Live)
		public.Get("/health/upstream", health.Upstream)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Sync == nil {
		return r
	}
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		v1.Get("/sessions/{dateKey}", cfg.Sync.GetSession)
		v1.Get("/sync/runs/{runID}", cfg.Sync.GetRun)

		v1.Group(func(trigger chi.Router) {
			if cfg.TriggerLimiter != nil {
				trigger.Use(httpmiddleware.RateLimit(cfg.TriggerLimiter))
			}
			trigger.Post("/sync", cfg.Sync.TriggerSync)
			trigger.Post("/sync/jobs", cfg.Sync.EnqueueSync)
		})
	})
	return r
}
