package handler

import (
	"errors"
	"io"
	"net/http"

	"zipsea-sync-api/internal/service"
	"zipsea-sync-api/pkg/apierror"
	"zipsea-sync-api/pkg/response"
)

// maxWebhookBody caps inbound notification bodies at 1 MiB. Real payloads
// are a few hundred bytes.
const maxWebhookBody = 1 << 20

// WebhookHandler receives Traveltek pricing notifications.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Receive handles POST /webhooks/traveltek. The response is sent as soon
// as the notification is recorded and the rows are flagged; the re-fetch
// itself runs later in the scheduler.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, apierror.BadRequest("failed to read request body"))
		return
	}

	events, err := h.webhooks.Receive(r.Context(), body)
	if err != nil {
		var vErr *service.ValidationError
		if errors.As(err, &vErr) {
			response.Error(w, apierror.ValidationError(vErr.Msg))
			return
		}
		response.Error(w, err)
		return
	}

	// Zero-match notifications come back already completed; everything
	// else is received and awaits the next scheduler pass.
	acked := make([]ackedEvent, 0, len(events))
	for _, e := range events {
		acked = append(acked, ackedEvent{EventID: e.EventID, Status: e.Status})
	}
	response.JSON(w, http.StatusAccepted, map[string]interface{}{
		"events": acked,
	})
}

type ackedEvent struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}
