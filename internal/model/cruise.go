package model

import "time"

// Cruise represents a single sailing synced from the Traveltek feed.
// The structured columns are projections of RawJSON: every extracted field
// can be re-derived from the raw document, and RawJSON is only ever replaced
// in full by a successful sync.
type Cruise struct {
	ID                     int64      `json:"id"`
	ExternalID             string     `json:"external_id"` // Traveltek codetocruiseid, unique
	CruiseID               string     `json:"cruise_id"`   // Traveltek cruiseid (shared across sailings)
	LineID                 int        `json:"line_id"`
	ShipID                 int        `json:"ship_id"`
	Name                   string     `json:"name"`
	SailDate               time.Time  `json:"sail_date"`
	Nights                 int        `json:"nights"`
	Currency               string     `json:"currency"`
	IsActive               bool       `json:"is_active"`
	NeedsPriceUpdate       bool       `json:"needs_price_update"`
	PriceUpdateRequestedAt *time.Time `json:"price_update_requested_at,omitempty"`
	CheapestInside         *float64   `json:"cheapest_inside,omitempty"`
	CheapestOutside        *float64   `json:"cheapest_outside,omitempty"`
	CheapestBalcony        *float64   `json:"cheapest_balcony,omitempty"`
	CheapestSuite          *float64   `json:"cheapest_suite,omitempty"`
	RawJSON                []byte     `json:"-"`
	LastSyncedAt           *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// CheapestPrices groups the per-category cheapest projection so it can be
// passed around without dragging the whole Cruise along.
type CheapestPrices struct {
	Inside  *float64 `json:"inside,omitempty"`
	Outside *float64 `json:"outside,omitempty"`
	Balcony *float64 `json:"balcony,omitempty"`
	Suite   *float64 `json:"suite,omitempty"`
}

// Cheapest returns the cruise's current cheapest-per-category projection.
func (c *Cruise) Cheapest() CheapestPrices {
	return CheapestPrices{
		Inside:  c.CheapestInside,
		Outside: c.CheapestOutside,
		Balcony: c.CheapestBalcony,
		Suite:   c.CheapestSuite,
	}
}
