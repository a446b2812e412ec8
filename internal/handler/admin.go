package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"zipsea-sync-api/internal/repository"
	"zipsea-sync-api/internal/service"
	"zipsea-sync-api/internal/traveltek"
	"zipsea-sync-api/pkg/apierror"
	"zipsea-sync-api/pkg/response"
)

// AdminHandler serves the key-protected operational endpoints.
type AdminHandler struct {
	store     *repository.Store
	scheduler *service.Scheduler
	source    traveltek.Source
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(store *repository.Store, scheduler *service.Scheduler, source traveltek.Source) *AdminHandler {
	return &AdminHandler{store: store, scheduler: scheduler, source: source}
}

type triggerRequest struct {
	LineID int `json:"line_id"`
}

// TriggerSync handles POST /admin/sync/trigger. With a line_id it runs a
// full locked pass for that line and returns its summary; a scope held by
// another worker yields 409. With no line_id it kicks off a background
// sweep of every flagged line and returns immediately.
func (h *AdminHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	if req.LineID < 0 {
		response.Error(w, apierror.ValidationError("line_id must be positive"))
		return
	}
	if req.LineID == 0 {
		go h.scheduler.RunAll(context.Background())
		response.JSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "sweep started",
		})
		return
	}

	summary, err := h.scheduler.RunLine(r.Context(), req.LineID)
	if errors.Is(err, service.ErrAlreadyLocked) {
		response.Error(w, apierror.Conflict("a sync pass for this line is already running"))
		return
	}
	if err != nil {
		// Aborted pass; the partial summary still tells the operator
		// how far it got.
		response.JSON(w, http.StatusBadGateway, map[string]interface{}{
			"summary": summary,
			"error":   err.Error(),
		})
		return
	}
	response.OK(w, map[string]interface{}{"summary": summary})
}

type reseedRequest struct {
	Documents []json.RawMessage `json:"documents"`
}

// Reseed handles POST /admin/reseed - the truncate-and-reload path.
func (h *AdminHandler) Reseed(w http.ResponseWriter, r *http.Request) {
	var req reseedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	if len(req.Documents) == 0 {
		response.Error(w, apierror.ValidationError("documents must not be empty"))
		return
	}

	loaded, skipped, err := h.scheduler.Reseed(r.Context(), req.Documents)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"loaded":  loaded,
		"skipped": skipped,
	})
}

// BrowseFeed handles GET /admin/feed. It lists one line's feed directory
// for a period, for checking what a line has actually published before
// triggering a sync. An absent directory returns an empty listing.
func (h *AdminHandler) BrowseFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lineID, err := strconv.Atoi(q.Get("line_id"))
	if err != nil || lineID <= 0 {
		response.Error(w, apierror.ValidationError("line_id must be a positive integer"))
		return
	}

	now := time.Now().UTC()
	year, month := now.Year(), now.Month()
	if v := q.Get("year"); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			response.Error(w, apierror.ValidationError("invalid year"))
			return
		}
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			response.Error(w, apierror.ValidationError("invalid month"))
			return
		}
		month = time.Month(m)
	}

	path := traveltek.LineDir(lineID, year, month)
	entries, err := h.source.List(r.Context(), path)
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("feed listing failed: "+err.Error()))
		return
	}
	if entries == nil {
		entries = []traveltek.Entry{}
	}
	response.OK(w, map[string]interface{}{
		"path":    path,
		"entries": entries,
	})
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := h.store.Cruises.Count(ctx)
	if err != nil {
		response.Error(w, err)
		return
	}
	pending, err := h.store.Cruises.PendingByLine(ctx)
	if err != nil {
		response.Error(w, err)
		return
	}
	locks, err := h.store.Locks.Active(ctx)
	if err != nil {
		response.Error(w, err)
		return
	}

	var flagged int64
	for _, n := range pending {
		flagged += n
	}
	response.OK(w, map[string]interface{}{
		"cruises":         total,
		"flagged":         flagged,
		"pending_by_line": pending,
		"active_locks":    len(locks),
		"lock_holder":     h.scheduler.Holder(),
	})
}
