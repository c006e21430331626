package repository

import (
	"context"
	"database/sql"

	"github.com/fleetsync/server/internal/models"
)

// CurrentStateRepository implements CurrentStateRepo for PostgreSQL/SQLite
type CurrentStateRepository struct {
	db *sql.DB
}

// NewCurrentStateRepository creates a new CurrentStateRepository
func NewCurrentStateRepository(db *sql.DB) *CurrentStateRepository {
	return &CurrentStateRepository{db: db}
}

func (r *CurrentStateRepository) Get(ctx context.Context, deviceUUID string) (*models.CurrentState, error) {
	query := `SELECT device_uuid, apps, config, system_info, version, reported_at
			  FROM current_states WHERE device_uuid = $1`

	var state models.CurrentState
	var apps, config, sysInfo string
	err := r.db.QueryRowContext(ctx, query, deviceUUID).Scan(
		&state.DeviceUUID, &apps, &config, &sysInfo, &state.Version, &state.ReportedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state.Apps = models.AppMap{}
	if err := decodeColumn(apps, &state.Apps); err != nil {
		return nil, err
	}
	if err := decodeColumn(config, &state.Config); err != nil {
		return nil, err
	}
	if err := decodeColumn(sysInfo, &state.SystemInfo); err != nil {
		return nil, err
	}
	return &state, nil
}

// Upsert overwrites the row wholesale; reports are last-write-wins
func (r *CurrentStateRepository) Upsert(ctx context.Context, state *models.CurrentState) error {
	apps, err := encodeColumn(state.Apps)
	if err != nil {
		return err
	}
	config, err := encodeColumn(state.Config)
	if err != nil {
		return err
	}
	sysInfo, err := encodeColumn(state.SystemInfo)
	if err != nil {
		return err
	}

	query := `INSERT INTO current_states (device_uuid, apps, config, system_info, version, reported_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (device_uuid) DO UPDATE SET
				apps = EXCLUDED.apps,
				config = EXCLUDED.config,
				system_info = EXCLUDED.system_info,
				version = EXCLUDED.version,
				reported_at = EXCLUDED.reported_at`
	_, err = r.db.ExecContext(ctx, query, state.DeviceUUID, apps, config, sysInfo, state.Version, state.ReportedAt)
	return err
}
