package handler

import (
	"context"
	"net/http"
	"time"

	"zipsea-sync-api/internal/cache"
	"zipsea-sync-api/internal/repository"
	"zipsea-sync-api/pkg/apierror"
	"zipsea-sync-api/pkg/response"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store     *repository.Store
	cache     cache.Cache
	version   string
	startedAt time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(store *repository.Store, c cache.Cache, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		cache:     c,
		version:   version,
		startedAt: time.Now(),
	}
}

// Health handles GET /health - liveness probe, no dependency checks.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Ready handles GET /ready - readiness probe checking store and cache.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"store": "ok",
		"cache": "ok",
	}
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if _, err := h.cache.Exists(ctx, "readiness-probe"); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	}

	if !healthy {
		response.Error(w, apierror.ServiceUnavailable("dependencies unavailable"))
		return
	}
	response.OK(w, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}
