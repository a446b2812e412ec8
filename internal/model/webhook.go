package model

import "time"

// Webhook event lifecycle. Events are immutable after creation except for
// the status/result transition; completed and failed are terminal.
const (
	EventStatusReceived   = "received"
	EventStatusProcessing = "processing"
	EventStatusCompleted  = "completed"
	EventStatusFailed     = "failed"
)

// Traveltek webhook event types.
const (
	EventTypeLinePricingUpdated    = "cruiseline_pricing_updated"
	EventTypeCruisesPricingUpdated = "cruises_pricing_updated"
)

// WebhookEvent records one inbound pricing notification.
type WebhookEvent struct {
	ID          int64      `json:"-"`
	EventID     string     `json:"event_id"` // public UUID
	EventType   string     `json:"event_type"`
	LineID      *int       `json:"line_id,omitempty"` // nil for explicit-id scopes
	Payload     []byte     `json:"-"`                 // original notification body
	Status      string     `json:"status"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Summary     RunSummary `json:"summary"`
}

// RunSummary is the outcome of one batch sync pass, attached to the
// triggering webhook events and surfaced on the status endpoint.
type RunSummary struct {
	Processed   int      `json:"processed"`
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Deactivated int      `json:"deactivated"`
	Failed      int      `json:"failed"`
	Errors      []string `json:"errors,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// FailureRate returns the fraction of attempted rows that failed.
func (s *RunSummary) FailureRate() float64 {
	attempted := s.Processed + s.Failed
	if attempted == 0 {
		return 0
	}
	return float64(s.Failed) / float64(attempted)
}
