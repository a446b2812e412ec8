package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"zipsea-sync-api/internal/model"
)

// MySQLCruiseRepository implements CruiseRepository using MySQL.
type MySQLCruiseRepository struct {
	db *sql.DB
}

const cruiseColumns = `id, external_id, cruise_id, line_id, ship_id, name, sail_date, nights,
	currency, is_active, needs_price_update, price_update_requested_at,
	cheapest_inside, cheapest_outside, cheapest_balcony, cheapest_suite,
	raw_json, last_synced_at, created_at, updated_at`

// Upsert atomically replaces the extracted fields and raw document in a
// single statement; partial raw-document updates are impossible.
func (r *MySQLCruiseRepository) Upsert(ctx context.Context, c *model.Cruise) (bool, error) {
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
		ON DUPLICATE KEY UPDATE
			cruise_id = VALUES(cruise_id),
			line_id = VALUES(line_id),
			ship_id = VALUES(ship_id),
			name = VALUES(name),
			sail_date = VALUES(sail_date),
			nights = VALUES(nights),
			currency = VALUES(currency),
			is_active = 1,
			cheapest_inside = VALUES(cheapest_inside),
			cheapest_outside = VALUES(cheapest_outside),
			cheapest_balcony = VALUES(cheapest_balcony),
			cheapest_suite = VALUES(cheapest_suite),
			raw_json = VALUES(raw_json),
			last_synced_at = VALUES(last_synced_at),
			updated_at = VALUES(updated_at)`

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
func (r *MySQLCruiseRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Cruise, error) {
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
func (r *MySQLCruiseRepository) FlagByLine(ctx context.Context, lineID int, requestedAt time.Time) (int64, error) {
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
func (r *MySQLCruiseRepository) FlagByExternalIDs(ctx context.Context, externalIDs []string, requestedAt time.Time) (int64, error) {
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
func (r *MySQLCruiseRepository) SelectFlagged(ctx context.Context, lineID int, after FlagCursor, limit int) ([]model.Cruise, error) {
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
func (r *MySQLCruiseRepository) FlaggedLineIDs(ctx context.Context) ([]int, error) {
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
func (r *MySQLCruiseRepository) ClearFlag(ctx context.Context, externalID string, claimedAt time.Time) error {
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
func (r *MySQLCruiseRepository) Deactivate(ctx context.Context, externalID string) error {
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
func (r *MySQLCruiseRepository) PendingByLine(ctx context.Context) (map[int]int64, error) {
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
func (r *MySQLCruiseRepository) ReplaceAll(ctx context.Context, cruises []model.Cruise, chunkSize int) error {
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

func (r *MySQLCruiseRepository) insertChunk(ctx context.Context, chunk []model.Cruise) error {
	now := time.Now().UTC()
	var sb strings.Builder
	sb.WriteString(`INSERT INTO cruises (external_id, cruise_id, line_id, ship_id, name, sail_date,
		nights, currency, is_active, cheapest_inside, cheapest_outside, cheapest_balcony,
		cheapest_suite, raw_json, last_synced_at, created_at, updated_at) VALUES `)

	args := make([]interface{}, 0, len(chunk)*16)
	for i, c := range chunk {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			c.ExternalID, c.CruiseID, c.LineID, c.ShipID, c.Name, c.SailDate, c.Nights,
			c.Currency, nullFloat(c.CheapestInside), nullFloat(c.CheapestOutside),
			nullFloat(c.CheapestBalcony), nullFloat(c.CheapestSuite),
			string(c.RawJSON), nullTime(c.LastSyncedAt), now, now)
	}

	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// Count returns the total number of cruise rows.
func (r *MySQLCruiseRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cruises`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cruises: %w", err)
	}
	return n, nil
}

var _ CruiseRepository = (*MySQLCruiseRepository)(nil)
