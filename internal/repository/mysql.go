package repository

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQLStore opens the production MySQL store and bootstraps the schema.
func NewMySQLStore(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	if err := createMySQLTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[MySQLStore] Initialized")
	return &Store{
		Cruises:   &MySQLCruiseRepository{db: db},
		Events:    &MySQLEventRepository{db: db},
		Locks:     &MySQLLockRepository{db: db},
		Snapshots: &MySQLSnapshotRepository{db: db},
		db:        db,
	}, nil
}

func createMySQLTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cruises (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			external_id VARCHAR(64) NOT NULL,
			cruise_id VARCHAR(64) NOT NULL DEFAULT '',
			line_id INT NOT NULL,
			ship_id INT NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			sail_date DATE NOT NULL,
			nights INT NOT NULL DEFAULT 0,
			currency VARCHAR(8) NOT NULL DEFAULT '',
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			needs_price_update TINYINT(1) NOT NULL DEFAULT 0,
			price_update_requested_at DATETIME NULL,
			cheapest_inside DOUBLE NULL,
			cheapest_outside DOUBLE NULL,
			cheapest_balcony DOUBLE NULL,
			cheapest_suite DOUBLE NULL,
			raw_json MEDIUMTEXT NOT NULL,
			last_synced_at DATETIME NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE KEY uq_external_id (external_id),
			KEY idx_line_flag (line_id, needs_price_update),
			KEY idx_sail_date (sail_date)
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			event_id VARCHAR(36) NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			line_id INT NULL,
			payload MEDIUMTEXT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'received',
			received_at DATETIME NOT NULL,
			processed_at DATETIME NULL,
			processed_count INT NOT NULL DEFAULT 0,
			created_count INT NOT NULL DEFAULT 0,
			updated_count INT NOT NULL DEFAULT 0,
			deactivated_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			errors TEXT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			UNIQUE KEY uq_event_id (event_id),
			KEY idx_status_line (status, line_id),
			KEY idx_received (received_at)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_locks (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			scope_key VARCHAR(64) NOT NULL,
			holder VARCHAR(128) NOT NULL DEFAULT '',
			is_active TINYINT(1) NOT NULL DEFAULT 0,
			acquired_at DATETIME NOT NULL,
			released_at DATETIME NULL,
			UNIQUE KEY uq_scope (scope_key)
		)`,
		`CREATE TABLE IF NOT EXISTS price_snapshots (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			cruise_id BIGINT NOT NULL,
			external_id VARCHAR(64) NOT NULL,
			cheapest_inside DOUBLE NULL,
			cheapest_outside DOUBLE NULL,
			cheapest_balcony DOUBLE NULL,
			cheapest_suite DOUBLE NULL,
			currency VARCHAR(8) NOT NULL DEFAULT '',
			snapshot_at DATETIME NOT NULL,
			KEY idx_cruise (cruise_id, snapshot_at)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
