package model

import "time"

// PriceSnapshot captures a cruise's extracted prices immediately before a
// sync overwrites them. Append-only; used for change auditing and as a
// rollback reference.
type PriceSnapshot struct {
	ID              int64     `json:"id"`
	CruiseID        int64     `json:"cruise_id"`
	ExternalID      string    `json:"external_id"`
	CheapestInside  *float64  `json:"cheapest_inside,omitempty"`
	CheapestOutside *float64  `json:"cheapest_outside,omitempty"`
	CheapestBalcony *float64  `json:"cheapest_balcony,omitempty"`
	CheapestSuite   *float64  `json:"cheapest_suite,omitempty"`
	Currency        string    `json:"currency"`
	SnapshotAt      time.Time `json:"snapshot_at"`
}
