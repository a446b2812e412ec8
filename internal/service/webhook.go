package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"zipsea-sync-api/internal/model"
	"zipsea-sync-api/internal/repository"
	"zipsea-sync-api/pkg/uid"
)

// ValidationError rejects a malformed notification at the boundary.
// Nothing is persisted for a rejected notification.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// WebhookPayload is the inbound Traveltek notification body.
// Line-scoped events carry lineid (or lineids); explicit events carry the
// affected codetocruiseids.
type WebhookPayload struct {
	Event           string   `json:"event"`
	LineID          *int     `json:"lineid,omitempty"`
	LineIDs         []int    `json:"lineids,omitempty"`
	CodeToCruiseIDs []string `json:"codetocruiseids,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	MarketID        *int     `json:"marketid,omitempty"`
}

// WebhookService records inbound pricing notifications and flags the
// affected cruise rows. The actual re-fetch happens asynchronously in the
// scheduler; Receive returns as soon as the rows are flagged.
type WebhookService struct {
	cruises repository.CruiseRepository
	events  repository.EventRepository
}

// NewWebhookService creates a webhook intake service.
func NewWebhookService(cruises repository.CruiseRepository, events repository.EventRepository) *WebhookService {
	return &WebhookService{cruises: cruises, events: events}
}

// Receive validates and persists a notification, flags the matching
// cruises, and returns the created events. Duplicate deliveries simply
// re-flag: flagging only refreshes the request timestamp.
func (s *WebhookService) Receive(ctx context.Context, body []byte) ([]*model.WebhookEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ValidationError{Msg: "invalid JSON payload"}
	}

	switch payload.Event {
	case model.EventTypeLinePricingUpdated:
		return s.receiveLineEvents(ctx, body, &payload)
	case model.EventTypeCruisesPricingUpdated:
		return s.receiveCruisesEvent(ctx, body, &payload)
	case "":
		return nil, &ValidationError{Msg: "missing event type"}
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown event type: %s", payload.Event)}
	}
}

func (s *WebhookService) receiveLineEvents(ctx context.Context, body []byte, payload *WebhookPayload) ([]*model.WebhookEvent, error) {
	lineIDs := payload.LineIDs
	if payload.LineID != nil {
		lineIDs = append(lineIDs, *payload.LineID)
	}
	if len(lineIDs) == 0 {
		return nil, &ValidationError{Msg: "lineid is required for " + model.EventTypeLinePricingUpdated}
	}
	for _, id := range lineIDs {
		if id <= 0 {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid lineid: %d", id)}
		}
	}

	now := time.Now().UTC()
	events := make([]*model.WebhookEvent, 0, len(lineIDs))
	for _, lineID := range lineIDs {
		lineID := lineID
		event := &model.WebhookEvent{
			EventID:    uid.New(),
			EventType:  model.EventTypeLinePricingUpdated,
			LineID:     &lineID,
			Payload:    body,
			ReceivedAt: now,
		}
		if err := s.events.Create(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to persist webhook event: %w", err)
		}

		flagged, err := s.cruises.FlagByLine(ctx, lineID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to flag line %d: %w", lineID, err)
		}
		if flagged == 0 {
			// No active cruises to re-fetch. Close the event right away;
			// a scheduler pass only visits lines with flagged rows, so a
			// zero-match event would otherwise never reach a terminal state.
			if err := s.finishEmpty(ctx, event); err != nil {
				return nil, err
			}
		}
		log.Printf("[WebhookService] Event %s: flagged %d cruises for line %d", event.EventID, flagged, lineID)
		events = append(events, event)
	}
	return events, nil
}

func (s *WebhookService) receiveCruisesEvent(ctx context.Context, body []byte, payload *WebhookPayload) ([]*model.WebhookEvent, error) {
	if len(payload.CodeToCruiseIDs) == 0 {
		return nil, &ValidationError{Msg: "codetocruiseids is required for " + model.EventTypeCruisesPricingUpdated}
	}
	for _, id := range payload.CodeToCruiseIDs {
		if id == "" {
			return nil, &ValidationError{Msg: "empty codetocruiseid in list"}
		}
	}

	now := time.Now().UTC()
	event := &model.WebhookEvent{
		EventID:    uid.New(),
		EventType:  model.EventTypeCruisesPricingUpdated,
		LineID:     s.soleLineOf(ctx, payload.CodeToCruiseIDs),
		Payload:    body,
		ReceivedAt: now,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist webhook event: %w", err)
	}

	flagged, err := s.cruises.FlagByExternalIDs(ctx, payload.CodeToCruiseIDs, now)
	if err != nil {
		return nil, fmt.Errorf("failed to flag cruises: %w", err)
	}
	if flagged == 0 {
		// None of the listed ids matched a row; nothing will ever claim
		// this event, so close it with an empty summary.
		if err := s.finishEmpty(ctx, event); err != nil {
			return nil, err
		}
	}
	log.Printf("[WebhookService] Event %s: flagged %d of %d listed cruises",
		event.EventID, flagged, len(payload.CodeToCruiseIDs))
	return []*model.WebhookEvent{event}, nil
}

// finishEmpty completes an event that flagged no rows with zero counts.
func (s *WebhookService) finishEmpty(ctx context.Context, event *model.WebhookEvent) error {
	if err := s.events.Finish(ctx, []int64{event.ID}, model.EventStatusCompleted, model.RunSummary{}); err != nil {
		return fmt.Errorf("failed to finish event %s: %w", event.EventID, err)
	}
	event.Status = model.EventStatusCompleted
	return nil
}

// soleLineOf attributes an explicit-id event to a line when every listed
// cruise belongs to the same one. Mixed or unknown lists stay unscoped and
// are closed by the first affected line's pass.
func (s *WebhookService) soleLineOf(ctx context.Context, externalIDs []string) *int {
	var lineID *int
	for _, id := range externalIDs {
		cruise, err := s.cruises.GetByExternalID(ctx, id)
		if err != nil {
			return nil
		}
		if lineID == nil {
			v := cruise.LineID
			lineID = &v
		} else if *lineID != cruise.LineID {
			return nil
		}
	}
	return lineID
}
