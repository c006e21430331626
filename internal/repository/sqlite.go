package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Single connection so transactions never hit SQLITE_BUSY; the
	// per-device and per-rollout invariants rely on transactional
	// read-modify-write.
	db.SetMaxOpenConns(1)

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Devices table
	CREATE TABLE IF NOT EXISTS devices (
		uuid TEXT PRIMARY KEY,
		fleet_id TEXT NOT NULL,
		device_name TEXT NOT NULL,
		device_type TEXT NOT NULL DEFAULT '',
		registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_devices_fleet_id ON devices(fleet_id);

	-- Target states (desired state, one active row per device)
	CREATE TABLE IF NOT EXISTS target_states (
		device_uuid TEXT PRIMARY KEY,
		apps TEXT NOT NULL,
		config TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		needs_deployment INTEGER NOT NULL DEFAULT 0,
		last_deployed_at DATETIME,
		deployed_by TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Target state revisions (append-only deploy history)
	CREATE TABLE IF NOT EXISTS target_state_revisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_uuid TEXT NOT NULL,
		apps TEXT NOT NULL,
		config TEXT NOT NULL,
		version INTEGER NOT NULL,
		deployed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_revisions_device ON target_state_revisions(device_uuid, id);

	-- Current states (last reported state, one row per device)
	CREATE TABLE IF NOT EXISTS current_states (
		device_uuid TEXT PRIMARY KEY,
		apps TEXT NOT NULL,
		config TEXT NOT NULL,
		system_info TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 0,
		reported_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Rollouts
	CREATE TABLE IF NOT EXISTS rollouts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		image_reference TEXT NOT NULL DEFAULT '',
		template TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		status_reason TEXT NOT NULL DEFAULT '',
		batch_percent INTEGER NOT NULL,
		failure_threshold_percent INTEGER NOT NULL,
		current_batch INTEGER NOT NULL DEFAULT 0,
		total_batches INTEGER NOT NULL DEFAULT 0,
		total_devices INTEGER NOT NULL DEFAULT 0,
		updated_devices INTEGER NOT NULL DEFAULT 0,
		healthy_devices INTEGER NOT NULL DEFAULT 0,
		failed_devices INTEGER NOT NULL DEFAULT 0,
		rolled_back_devices INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		started_at DATETIME,
		paused_at DATETIME,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_rollouts_status ON rollouts(status);

	-- Rollout devices (per-device rollout state, owned by the rollout)
	CREATE TABLE IF NOT EXISTS rollout_devices (
		rollout_id TEXT NOT NULL REFERENCES rollouts(id) ON DELETE CASCADE,
		device_uuid TEXT NOT NULL,
		batch_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		pre_update_apps TEXT NOT NULL DEFAULT '{}',
		pre_update_config TEXT NOT NULL DEFAULT '{}',
		pre_update_version INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (rollout_id, device_uuid)
	);

	CREATE INDEX IF NOT EXISTS idx_rollout_devices_batch ON rollout_devices(rollout_id, batch_number);

	-- Rollout events (append-only audit trail)
	CREATE TABLE IF NOT EXISTS rollout_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rollout_id TEXT NOT NULL REFERENCES rollouts(id) ON DELETE CASCADE,
		device_uuid TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rollout_events_rollout ON rollout_events(rollout_id, id);
	`

	_, err := db.Exec(schema)
	return err
}
