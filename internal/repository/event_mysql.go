package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zipsea-sync-api/internal/model"
)

// MySQLEventRepository implements EventRepository using MySQL.
type MySQLEventRepository struct {
	db *sql.DB
}

// Create persists a new event in received state.
func (r *MySQLEventRepository) Create(ctx context.Context, e *model.WebhookEvent) error {
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

// ClaimPending moves received events for a line (and unscoped events) to
// processing. Events whose explicit id list spanned several lines are
// closed by whichever affected line's pass finishes first.
func (r *MySQLEventRepository) ClaimPending(ctx context.Context, lineID int) ([]int64, error) {
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

// Finish moves non-terminal events to a terminal status with the run
// summary. Events already completed or failed are never touched.
func (r *MySQLEventRepository) Finish(ctx context.Context, ids []int64, status string, summary model.RunSummary) error {
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

// Recent returns the most recently received events, newest first.
func (r *MySQLEventRepository) Recent(ctx context.Context, limit int) ([]model.WebhookEvent, error) {
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

var _ EventRepository = (*MySQLEventRepository)(nil)
