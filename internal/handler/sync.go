package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"zipsea-sync-api/internal/cache"
	"zipsea-sync-api/internal/model"
	"zipsea-sync-api/internal/repository"
	"zipsea-sync-api/pkg/response"
)

const (
	syncStatusCacheKey = "sync:status"
	recentEventLimit   = 20
)

// SyncHandler serves the public sync status view.
type SyncHandler struct {
	store    *repository.Store
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewSyncHandler creates a sync status handler.
func NewSyncHandler(store *repository.Store, c cache.Cache, cacheTTL time.Duration) *SyncHandler {
	return &SyncHandler{store: store, cache: c, cacheTTL: cacheTTL}
}

type syncStatus struct {
	PendingByLine map[int]int64        `json:"pending_by_line"`
	ActiveLocks   []model.SyncLock     `json:"active_locks"`
	RecentEvents  []model.WebhookEvent `json:"recent_events"`
	GeneratedAt   time.Time            `json:"generated_at"`
}

// Status handles GET /sync/status. The view aggregates three queries, so
// it is cached briefly to keep dashboards from hammering the store.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	data, err := h.cache.GetOrSet(r.Context(), syncStatusCacheKey, h.cacheTTL, func() ([]byte, error) {
		return h.buildStatus(r)
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	var status syncStatus
	if err := json.Unmarshal(data, &status); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, status)
}

func (h *SyncHandler) buildStatus(r *http.Request) ([]byte, error) {
	ctx := r.Context()

	pending, err := h.store.Cruises.PendingByLine(ctx)
	if err != nil {
		return nil, err
	}
	locks, err := h.store.Locks.Active(ctx)
	if err != nil {
		return nil, err
	}
	events, err := h.store.Events.Recent(ctx, recentEventLimit)
	if err != nil {
		return nil, err
	}

	return json.Marshal(syncStatus{
		PendingByLine: pending,
		ActiveLocks:   locks,
		RecentEvents:  events,
		GeneratedAt:   time.Now().UTC(),
	})
}
