package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"zipsea-sync-api/internal/model"
)

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanCruise reads one row selected with cruiseColumns. Shared by the MySQL
// and SQLite backends, which use identical column ordering.
func scanCruise(row rowScanner) (*model.Cruise, error) {
	var c model.Cruise
	var rawJSON string
	var requestedAt, lastSyncedAt sql.NullTime
	var inside, outside, balcony, suite sql.NullFloat64

	err := row.Scan(&c.ID, &c.ExternalID, &c.CruiseID, &c.LineID, &c.ShipID, &c.Name,
		&c.SailDate, &c.Nights, &c.Currency, &c.IsActive, &c.NeedsPriceUpdate,
		&requestedAt, &inside, &outside, &balcony, &suite,
		&rawJSON, &lastSyncedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.PriceUpdateRequestedAt = timePtr(requestedAt)
	c.LastSyncedAt = timePtr(lastSyncedAt)
	c.CheapestInside = floatPtr(inside)
	c.CheapestOutside = floatPtr(outside)
	c.CheapestBalcony = floatPtr(balcony)
	c.CheapestSuite = floatPtr(suite)
	c.RawJSON = []byte(rawJSON)
	return &c, nil
}

func collectLocks(rows *sql.Rows) ([]model.SyncLock, error) {
	var locks []model.SyncLock
	for rows.Next() {
		var l model.SyncLock
		var releasedAt sql.NullTime
		if err := rows.Scan(&l.ID, &l.ScopeKey, &l.Holder, &l.IsActive, &l.AcquiredAt, &releasedAt); err != nil {
			return nil, err
		}
		l.AcquiredAt = l.AcquiredAt.UTC()
		l.ReleasedAt = timePtr(releasedAt)
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// collectEvents reads webhook event rows selected without the payload
// column (listings never need the original body).
func collectEvents(rows *sql.Rows) ([]model.WebhookEvent, error) {
	var events []model.WebhookEvent
	for rows.Next() {
		var e model.WebhookEvent
		var lineID sql.NullInt64
		var processedAt sql.NullTime
		var errorsJSON sql.NullString

		err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &lineID, &e.Status,
			&e.ReceivedAt, &processedAt,
			&e.Summary.Processed, &e.Summary.Created, &e.Summary.Updated,
			&e.Summary.Deactivated, &e.Summary.Failed, &errorsJSON, &e.Summary.DurationMS)
		if err != nil {
			return nil, err
		}

		if lineID.Valid {
			v := int(lineID.Int64)
			e.LineID = &v
		}
		e.ReceivedAt = e.ReceivedAt.UTC()
		e.ProcessedAt = timePtr(processedAt)
		if errorsJSON.Valid && errorsJSON.String != "" {
			_ = json.Unmarshal([]byte(errorsJSON.String), &e.Summary.Errors)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func collectCruises(rows *sql.Rows) ([]model.Cruise, error) {
	var cruises []model.Cruise
	for rows.Next() {
		c, err := scanCruise(rows)
		if err != nil {
			return nil, err
		}
		cruises = append(cruises, *c)
	}
	return cruises, rows.Err()
}

// Nullable column helpers shared by the MySQL and SQLite backends.

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time.UTC()
	return &v
}
