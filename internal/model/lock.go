package model

import "time"

// SyncLock is a persisted mutual-exclusion record. At most one active lock
// exists per scope key; an active lock older than the configured staleness
// threshold is presumed abandoned and may be reclaimed.
type SyncLock struct {
	ID         int64      `json:"id"`
	ScopeKey   string     `json:"scope_key"` // "line:<id>" or "global"
	Holder     string     `json:"holder"`
	IsActive   bool       `json:"is_active"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}
