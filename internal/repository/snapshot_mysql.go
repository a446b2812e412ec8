package repository

import (
	"context"
	"database/sql"
	"fmt"

	"zipsea-sync-api/internal/model"
)

// MySQLSnapshotRepository implements SnapshotRepository using MySQL.
type MySQLSnapshotRepository struct {
	db *sql.DB
}

// Append records a point-in-time price capture.
func (r *MySQLSnapshotRepository) Append(ctx context.Context, s *model.PriceSnapshot) error {
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

var _ SnapshotRepository = (*MySQLSnapshotRepository)(nil)
