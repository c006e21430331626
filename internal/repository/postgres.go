package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		uuid TEXT PRIMARY KEY,
		fleet_id TEXT NOT NULL,
		device_name TEXT NOT NULL,
		device_type TEXT NOT NULL DEFAULT '',
		registered_at TIMESTAMP NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMP NOT NULL DEFAULT NOW(),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_devices_fleet_id ON devices(fleet_id);

	CREATE TABLE IF NOT EXISTS target_states (
		device_uuid TEXT PRIMARY KEY,
		apps TEXT NOT NULL,
		config TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		needs_deployment BOOLEAN NOT NULL DEFAULT FALSE,
		last_deployed_at TIMESTAMP,
		deployed_by TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS target_state_revisions (
		id BIGSERIAL PRIMARY KEY,
		device_uuid TEXT NOT NULL,
		apps TEXT NOT NULL,
		config TEXT NOT NULL,
		version BIGINT NOT NULL,
		deployed_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_revisions_device ON target_state_revisions(device_uuid, id);

	CREATE TABLE IF NOT EXISTS current_states (
		device_uuid TEXT PRIMARY KEY,
		apps TEXT NOT NULL,
		config TEXT NOT NULL,
		system_info TEXT NOT NULL DEFAULT '{}',
		version BIGINT NOT NULL DEFAULT 0,
		reported_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

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
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		started_at TIMESTAMP,
		paused_at TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rollouts_status ON rollouts(status);

	CREATE TABLE IF NOT EXISTS rollout_devices (
		rollout_id TEXT NOT NULL REFERENCES rollouts(id) ON DELETE CASCADE,
		device_uuid TEXT NOT NULL,
		batch_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		pre_update_apps TEXT NOT NULL DEFAULT '{}',
		pre_update_config TEXT NOT NULL DEFAULT '{}',
		pre_update_version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (rollout_id, device_uuid)
	);

	CREATE INDEX IF NOT EXISTS idx_rollout_devices_batch ON rollout_devices(rollout_id, batch_number);

	CREATE TABLE IF NOT EXISTS rollout_events (
		id BIGSERIAL PRIMARY KEY,
		rollout_id TEXT NOT NULL REFERENCES rollouts(id) ON DELETE CASCADE,
		device_uuid TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_rollout_events_rollout ON rollout_events(rollout_id, id);
	`

	_, err := db.Exec(schema)
	return err
}
