package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"github.com/pwkit/spywatch/internal/api/handler"
	"github.com/pwkit/spywatch/internal/collector"
	"github.com/pwkit/spywatch/internal/config"
	"github.com/pwkit/spywatch/internal/db"
	"github.com/pwkit/spywatch/internal/monitor"
	"github.com/pwkit/spywatch/internal/store"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(driver *monitor.Driver, coll *collector.Collector, resets *store.Resets, pool *db.Pool, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time", "Retry-After"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	nations := store.NewNations(pool.Pool)
	observations := store.NewObservations(pool.Pool)
	h := handler.New(driver, coll, nations, observations, resets, pool, cfg)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/resets", h.Resets)
		r.Get("/nations", h.Nations)
		r.Get("/nations/{nationID}", h.Nation)

		r.Post("/collect", h.Collect)
		r.Post("/monitor/start", h.StartMonitor)
		r.Post("/monitor/stop", h.StopMonitor)
		r.Post("/check/{nationID}", h.ForceCheck)
	})

	return r
}
