package router

import (
	"net/http"

	"zipsea-sync-api/internal/handler"
	"zipsea-sync-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	HealthHandler  *handler.HealthHandler
	WebhookHandler *handler.WebhookHandler
	SyncHandler    *handler.SyncHandler
	AdminHandler   *handler.AdminHandler
	AuthMiddleware func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC status probe (no auth required)
	if cfg.HealthHandler != nil {
		r.Get("/api/status", cfg.HealthHandler.Health)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Probes and the inbound webhook are unauthenticated: Traveltek
		// signs nothing, so the endpoint only flags rows and never
		// exposes data.
		if cfg.HealthHandler != nil {
			r.Get("/health", cfg.HealthHandler.Health)
			r.Get("/ready", cfg.HealthHandler.Ready)
		}
		if cfg.WebhookHandler != nil {
			r.Post("/webhooks/traveltek", cfg.WebhookHandler.Receive)
		}
		if cfg.SyncHandler != nil {
			r.Get("/sync/status", cfg.SyncHandler.Status)
		}

		// Admin endpoints require an API key.
		if cfg.AdminHandler != nil {
			r.Group(func(r chi.Router) {
				if cfg.AuthMiddleware != nil {
					r.Use(cfg.AuthMiddleware)
				}
				r.Route("/admin", func(r chi.Router) {
					r.Post("/sync/trigger", cfg.AdminHandler.TriggerSync)
					r.Post("/reseed", cfg.AdminHandler.Reseed)
					r.Get("/stats", cfg.AdminHandler.Stats)
					r.Get("/feed", cfg.AdminHandler.BrowseFeed)
				})
			})
		}
	})

	return r
}
