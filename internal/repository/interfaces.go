package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"zipsea-sync-api/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// FlagCursor marks a position in the flagged-row ordering
// (price_update_requested_at, id) for keyset pagination. The zero value
// starts from the beginning.
type FlagCursor struct {
	RequestedAt time.Time
	ID          int64
}

// CruiseRepository defines cruise inventory data access.
type CruiseRepository interface {
	// Upsert atomically replaces the extracted fields and the raw document
	// for a sailing, creating the row on first sighting. The returned flag
	// reports whether a new row was created (advisory, for run summaries).
	Upsert(ctx context.Context, cruise *model.Cruise) (created bool, err error)

	// GetByExternalID returns one cruise or ErrNotFound.
	GetByExternalID(ctx context.Context, externalID string) (*model.Cruise, error)

	// FlagByLine marks every active cruise of a line as needing a price
	// update. Idempotent: re-flagging only refreshes the request timestamp.
	FlagByLine(ctx context.Context, lineID int, requestedAt time.Time) (int64, error)

	// FlagByExternalIDs marks an explicit set of cruises.
	FlagByExternalIDs(ctx context.Context, externalIDs []string, requestedAt time.Time) (int64, error)

	// SelectFlagged returns up to limit flagged cruises for a line strictly
	// after the cursor position, oldest request first. The flag itself is
	// the batch checkpoint; cursor paging means rows that stay flagged
	// (failed this run) never block the rows sorted behind them.
	SelectFlagged(ctx context.Context, lineID int, after FlagCursor, limit int) ([]model.Cruise, error)

	// FlaggedLineIDs lists the lines that currently have flagged cruises.
	FlaggedLineIDs(ctx context.Context) ([]int, error)

	// ClearFlag clears the needs-update flag after a successful sync, but
	// only when no update request newer than claimedAt has arrived since
	// the row was selected. A request that lands mid-sync keeps its flag.
	ClearFlag(ctx context.Context, externalID string, claimedAt time.Time) error

	// Deactivate soft-deletes a cruise that disappeared from the feed and
	// clears its flag.
	Deactivate(ctx context.Context, externalID string) error

	// PendingByLine returns flagged-row counts grouped by line.
	PendingByLine(ctx context.Context) (map[int]int64, error)

	// ReplaceAll truncates the table and reloads it from rows, inserting in
	// chunks of chunkSize to bound transaction size. Administrative path.
	ReplaceAll(ctx context.Context, rows []model.Cruise, chunkSize int) error

	// Count returns the total number of cruise rows.
	Count(ctx context.Context) (int64, error)
}

// EventRepository defines webhook event data access.
type EventRepository interface {
	// Create persists a new event in received state and fills in its row ID.
	Create(ctx context.Context, event *model.WebhookEvent) error

	// ClaimPending transitions received events for a line (including
	// events without a line scope) to processing and returns their row IDs.
	ClaimPending(ctx context.Context, lineID int) ([]int64, error)

	// Finish moves non-terminal events to a terminal status with the run
	// summary. Events already completed or failed are never touched.
	Finish(ctx context.Context, ids []int64, status string, summary model.RunSummary) error

	// Recent returns the most recently received events, newest first.
	Recent(ctx context.Context, limit int) ([]model.WebhookEvent, error)
}

// LockRepository defines persisted sync lock access. The lock table is the
// single arbiter of which process may run a sync pass for a scope.
type LockRepository interface {
	// Acquire attempts to take the lock for a scope. A lock held longer
	// than staleAfter counts as abandoned and is taken over. Returns false
	// when an active, non-stale lock exists.
	Acquire(ctx context.Context, scopeKey, holder string, staleAfter time.Duration) (bool, error)

	// Release marks the holder's lock inactive. Idempotent: releasing an
	// already-released lock is a no-op.
	Release(ctx context.Context, scopeKey, holder string) error

	// ReclaimStale deactivates every active lock older than staleAfter.
	ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error)

	// Active lists currently held locks.
	Active(ctx context.Context) ([]model.SyncLock, error)
}

// SnapshotRepository defines price snapshot persistence.
type SnapshotRepository interface {
	// Append records a point-in-time price capture. Append-only.
	Append(ctx context.Context, snapshot *model.PriceSnapshot) error
}

// Store bundles the repositories backed by one database connection.
type Store struct {
	Cruises   CruiseRepository
	Events    EventRepository
	Locks     LockRepository
	Snapshots SnapshotRepository

	db *sql.DB
}

// DB exposes the underlying connection for readiness checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }
