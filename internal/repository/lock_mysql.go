package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"zipsea-sync-api/internal/model"
)

// MySQLLockRepository implements LockRepository using MySQL.
//
// The scope_key unique constraint plus a single conditional UPDATE make
// acquisition atomic: whichever process flips is_active first wins, and
// everyone else sees zero rows affected.
type MySQLLockRepository struct {
	db *sql.DB
}

// Acquire attempts to take the lock for a scope, reclaiming it when the
// current holder's acquisition time is past the staleness threshold.
func (r *MySQLLockRepository) Acquire(ctx context.Context, scopeKey, holder string, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()

	// Seed the row; losing the insert race is fine, the UPDATE decides.
	_, err := r.db.ExecContext(ctx, `
		INSERT IGNORE INTO sync_locks (scope_key, holder, is_active, acquired_at)
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

// Release marks the holder's lock inactive. Releasing a lock that is
// already released, or that was reclaimed by someone else, is a no-op.
func (r *MySQLLockRepository) Release(ctx context.Context, scopeKey, holder string) error {
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

// ReclaimStale deactivates every active lock older than staleAfter.
func (r *MySQLLockRepository) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
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

// Active lists currently held locks.
func (r *MySQLLockRepository) Active(ctx context.Context) ([]model.SyncLock, error) {
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

var _ LockRepository = (*MySQLLockRepository)(nil)
