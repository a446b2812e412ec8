package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"zipsea-sync-api/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// NewSQLiteStore opens a SQLite-backed store with WAL mode. Used for local
// development and tests; the cross-process lock table still works for
// multiple workers sharing one database file.
func NewSQLiteStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteStore] Initialized with database: %s", dbPath)
	return &Store{
		Cruises:   &SQLiteCruiseRepository{db: db},
		Events:    &SQLiteEventRepository{db: db},
		Locks:     &SQLiteLockRepository{db: db},
		Snapshots: &SQLiteSnapshotRepository{db: db},
		db:        db,
	}, nil
}

func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS cruises (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		cruise_id TEXT NOT NULL DEFAULT '',
		line_id INTEGER NOT NULL,
		ship_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		sail_date DATE NOT NULL,
		nights INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		needs_price_update INTEGER NOT NULL DEFAULT 0,
		price_update_requested_at DATETIME,
		cheapest_inside REAL,
		cheapest_outside REAL,
		cheapest_balcony REAL,
		cheapest_suite REAL,
		raw_json TEXT NOT NULL,
		last_synced_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cruises_line_flag ON cruises(line_id, needs_price_update);
	CREATE INDEX IF NOT EXISTS idx_cruises_sail_date ON cruises(sail_date);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		line_id INTEGER,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'received',
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		processed_count INTEGER NOT NULL DEFAULT 0,
		created_count INTEGER NOT NULL DEFAULT 0,
		updated_count INTEGER NOT NULL DEFAULT 0,
		deactivated_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		errors TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_status_line ON webhook_events(status, line_id);

	CREATE TABLE IF NOT EXISTS sync_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scope_key TEXT NOT NULL UNIQUE,
		holder TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 0,
		acquired_at DATETIME NOT NULL,
		released_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS price_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cruise_id INTEGER NOT NULL,
		external_id TEXT NOT NULL,
		cheapest_inside REAL,
		cheapest_outside REAL,
		cheapest_balcony REAL,
		cheapest_suite REAL,
		currency TEXT NOT NULL DEFAULT '',
		snapshot_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_cruise ON price_snapshots(cruise_id, snapshot_at);
	`
	_, err := db.Exec(query)
	return err
}

// SQLiteCruiseRepository implements CruiseRepository using SQLite.
type SQLiteCruiseRepository struct {
	db *sql.DB
}

// Upsert atomically replaces the extracted fields and raw document.
func (r *SQLiteCruiseRepository) Upsert(ctx context.Context, c *model.Cruise) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cruises WHERE external_id = ?)`, c.ExternalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check cruise existence: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO cruises (external_id, cruise_id, line_id, ship_id, name, sail_date, nights,
			currency, is_active, cheapest_inside, cheapest_outside, cheapest_balcony, cheapest_suite,
			raw_json, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			cruise_id = excluded.cruise_id,
			line_id = excluded.line_id,
			ship_id = excluded.ship_id,
			name = excluded.name,
			sail_date = excluded.sail_date,
			nights = excluded.nights,
			currency = excluded.currency,
			is_active = 1,
			cheapest_inside = excluded.cheapest_inside,
			cheapest_outside = excluded.cheapest_outside,
			cheapest_balcony = excluded.cheapest_balcony,
			cheapest_suite = excluded.cheapest_suite,
			raw_json = excluded.raw_json,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		c.ExternalID, c.CruiseID, c.LineID, c.ShipID, c.Name, c.SailDate, c.Nights,
		c.Currency, nullFloat(c.CheapestInside), nullFloat(c.CheapestOutside),
		nullFloat(c.CheapestBalcony), nullFloat(c.CheapestSuite),
		string(c.RawJSON), now, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to upsert cruise %s: %w", c.ExternalID, err)
	}
	return !exists, nil
}

// GetByExternalID returns one cruise or ErrNotFound.
func (r *SQLiteCruiseRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Cruise, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+cruiseColumns+` FROM cruises WHERE external_id = ?`, externalID)
	c, err := scanCruise(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cruise %s: %w", externalID, err)
	}
	return c, nil
}

// FlagByLine marks every active cruise of a line for re-fetch.
func (r *SQLiteCruiseRepository) FlagByLine(ctx context.Context, lineID int, requestedAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE cruises
		SET needs_price_update = 1, price_update_requested_at = ?
		WHERE line_id = ? AND is_active = 1`,
		requestedAt.UTC(), lineID)
	if err != nil {
		return 0, fmt.Errorf("failed to flag line %d: %w", lineID, err)
	}
	return result.RowsAffected()
}

// FlagByExternalIDs marks an explicit set of cruises for re-fetch.
func (r *SQLiteCruiseRepository) FlagByExternalIDs(ctx context.Context, externalIDs []string, requestedAt time.Time) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(externalIDs)-1) + "?"
	args := make([]interface{}, 0, len(externalIDs)+1)
	args = append(args, requestedAt.UTC())
	for _, id := range externalIDs {
		args = append(args, id)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE cruises
		SET needs_price_update = 1, price_update_requested_at = ?
		WHERE external_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to flag cruises: %w", err)
	}
	return result.RowsAffected()
}

// SelectFlagged returns a bounded page of flagged cruises past the
// cursor, oldest first.
func (r *SQLiteCruiseRepository) SelectFlagged(ctx context.Context, lineID int, after FlagCursor, limit int) ([]model.Cruise, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cruiseColumns+`
		FROM cruises
		WHERE line_id = ? AND needs_price_update = 1
			AND (price_update_requested_at > ?
				OR (price_update_requested_at = ? AND id > ?))
		ORDER BY price_update_requested_at ASC, id ASC
		LIMIT ?`, lineID, after.RequestedAt.UTC(), after.RequestedAt.UTC(), after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select flagged cruises: %w", err)
	}
	defer rows.Close()

	return collectCruises(rows)
}

// FlaggedLineIDs lists the lines that currently have flagged cruises.
func (r *SQLiteCruiseRepository) FlaggedLineIDs(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT line_id FROM cruises WHERE needs_price_update = 1 ORDER BY line_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged lines: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearFlag clears the needs-update flag after a successful sync. The
// clear is conditional on the claimed request timestamp so a webhook
// that re-flags the row mid-sync is not erased.
func (r *SQLiteCruiseRepository) ClearFlag(ctx context.Context, externalID string, claimedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cruises
		SET needs_price_update = 0, price_update_requested_at = NULL
		WHERE external_id = ?
			AND (price_update_requested_at IS NULL OR price_update_requested_at <= ?)`,
		externalID, claimedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to clear flag for %s: %w", externalID, err)
	}
	return nil
}

// Deactivate soft-deletes a cruise absent from the feed.
func (r *SQLiteCruiseRepository) Deactivate(ctx context.Context, externalID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cruises
		SET is_active = 0, needs_price_update = 0, price_update_requested_at = NULL, updated_at = ?
		WHERE external_id = ?`, time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", externalID, err)
	}
	return nil
}

// PendingByLine returns flagged-row counts grouped by line.
func (r *SQLiteCruiseRepository) PendingByLine(ctx context.Context) (map[int]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT line_id, COUNT(*)
		FROM cruises
		WHERE needs_price_update = 1
		GROUP BY line_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending flags: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var lineID int
		var n int64
		if err := rows.Scan(&lineID, &n); err != nil {
			return nil, err
		}
		counts[lineID] = n
	}
	return counts, rows.Err()
}

// ReplaceAll truncates and reloads the cruise table in fixed-size chunks.
func (r *SQLiteCruiseRepository) ReplaceAll(ctx context.Context, cruises []model.Cruise, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = 500
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM cruises`); err != nil {
		return fmt.Errorf("failed to clear cruises: %w", err)
	}

	for start := 0; start < len(cruises); start += chunkSize {
		end := start + chunkSize
		if end > len(cruises) {
			end = len(cruises)
		}
		if err := r.insertChunk(ctx, cruises[start:end]); err != nil {
			return fmt.Errorf("failed to reload chunk at %d: %w", start, err)
		}
	}
	return nil
}

func (r *SQLiteCruiseRepository) insertChunk(ctx context.Context, chunk []model.Cruise) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cruises (external_id, cruise_id, line_id, ship_id, name, sail_date, nights,
			currency, is_active, cheapest_inside, cheapest_outside, cheapest_balcony, cheapest_suite,
			raw_json, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunk {
		_, err := stmt.ExecContext(ctx,
			c.ExternalID, c.CruiseID, c.LineID, c.ShipID, c.Name, c.SailDate, c.Nights,
			c.Currency, nullFloat(c.CheapestInside), nullFloat(c.CheapestOutside),
			nullFloat(c.CheapestBalcony), nullFloat(c.CheapestSuite),
			string(c.RawJSON), nullTime(c.LastSyncedAt), now, now)
		if err != nil {
			return fmt.Errorf("failed to insert cruise %s: %w", c.ExternalID, err)
		}
	}

	return tx.Commit()
}

// Count returns the total number of cruise rows.
func (r *SQLiteCruiseRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cruises`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cruises: %w", err)
	}
	return n, nil
}

// SQLiteEventRepository implements EventRepository using SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func (r *SQLiteEventRepository) Create(ctx context.Context, e *model.WebhookEvent) error {
	var lineID sql.NullInt64
	if e.LineID != nil {
		lineID = sql.NullInt64{Int64: int64(*e.LineID), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, line_id, payload, status, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.EventID, e.EventType, lineID, string(e.Payload), model.EventStatusReceived, e.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}

	e.Status = model.EventStatusReceived
	e.ID, err = result.LastInsertId()
	return err
}

func (r *SQLiteEventRepository) ClaimPending(ctx context.Context, lineID int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM webhook_events
		WHERE status = ? AND (line_id = ? OR line_id IS NULL)`,
		model.EventStatusReceived, lineID)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending events: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, model.EventStatusProcessing, model.EventStatusReceived)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = ?
		WHERE status = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to claim events: %w", err)
	}
	return ids, nil
}

func (r *SQLiteEventRepository) Finish(ctx context.Context, ids []int64, status string, summary model.RunSummary) error {
	if len(ids) == 0 {
		return nil
	}

	errorsJSON, err := json.Marshal(summary.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode error list: %w", err)
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := []interface{}{
		status, time.Now().UTC(),
		summary.Processed, summary.Created, summary.Updated, summary.Deactivated, summary.Failed,
		string(errorsJSON), summary.DurationMS,
		model.EventStatusProcessing, model.EventStatusReceived,
	}
	for _, id := range ids {
		args = append(args, id)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = ?, processed_at = ?,
			processed_count = ?, created_count = ?, updated_count = ?,
			deactivated_count = ?, failed_count = ?, errors = ?, duration_ms = ?
		WHERE status IN (?, ?) AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to finish events: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) Recent(ctx context.Context, limit int) ([]model.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, line_id, status, received_at, processed_at,
			processed_count, created_count, updated_count, deactivated_count, failed_count,
			errors, duration_ms
		FROM webhook_events
		ORDER BY received_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// SQLiteLockRepository implements LockRepository using SQLite. SQLite
// serializes writers, so the conditional UPDATE is atomic here too.
type SQLiteLockRepository struct {
	db *sql.DB
}

func (r *SQLiteLockRepository) Acquire(ctx context.Context, scopeKey, holder string, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sync_locks (scope_key, holder, is_active, acquired_at)
		VALUES (?, '', 0, ?)`, scopeKey, now)
	if err != nil {
		return false, fmt.Errorf("failed to seed lock row for %s: %w", scopeKey, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_locks
		SET holder = ?, is_active = 1, acquired_at = ?, released_at = NULL
		WHERE scope_key = ? AND (is_active = 0 OR acquired_at < ?)`,
		holder, now, scopeKey, now.Add(-staleAfter))
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", scopeKey, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *SQLiteLockRepository) Release(ctx context.Context, scopeKey, holder string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_locks
		SET is_active = 0, released_at = ?
		WHERE scope_key = ? AND holder = ? AND is_active = 1`,
		time.Now().UTC(), scopeKey, holder)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", scopeKey, err)
	}
	return nil
}

func (r *SQLiteLockRepository) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_locks
		SET is_active = 0, released_at = ?
		WHERE is_active = 1 AND acquired_at < ?`,
		time.Now().UTC(), time.Now().UTC().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale locks: %w", err)
	}
	return result.RowsAffected()
}

func (r *SQLiteLockRepository) Active(ctx context.Context) ([]model.SyncLock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, scope_key, holder, is_active, acquired_at, released_at
		FROM sync_locks
		WHERE is_active = 1
		ORDER BY acquired_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active locks: %w", err)
	}
	defer rows.Close()

	return collectLocks(rows)
}

// SQLiteSnapshotRepository implements SnapshotRepository using SQLite.
type SQLiteSnapshotRepository struct {
	db *sql.DB
}

func (r *SQLiteSnapshotRepository) Append(ctx context.Context, s *model.PriceSnapshot) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (cruise_id, external_id, cheapest_inside, cheapest_outside,
			cheapest_balcony, cheapest_suite, currency, snapshot_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.CruiseID, s.ExternalID,
		nullFloat(s.CheapestInside), nullFloat(s.CheapestOutside),
		nullFloat(s.CheapestBalcony), nullFloat(s.CheapestSuite),
		s.Currency, s.SnapshotAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append price snapshot for %s: %w", s.ExternalID, err)
	}

	s.ID, err = result.LastInsertId()
	return err
}

var (
	_ CruiseRepository   = (*SQLiteCruiseRepository)(nil)
	_ EventRepository    = (*SQLiteEventRepository)(nil)
	_ LockRepository     = (*SQLiteLockRepository)(nil)
	_ SnapshotRepository = (*SQLiteSnapshotRepository)(nil)
)
