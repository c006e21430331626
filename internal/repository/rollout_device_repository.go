package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/fleetsync/server/internal/models"
)

// RolloutDeviceRepository implements RolloutDeviceRepo for PostgreSQL/SQLite
type RolloutDeviceRepository struct {
	db *sql.DB
}

// NewRolloutDeviceRepository creates a new RolloutDeviceRepository
func NewRolloutDeviceRepository(db *sql.DB) *RolloutDeviceRepository {
	return &RolloutDeviceRepository{db: db}
}

const rolloutDeviceColumns = `rollout_id, device_uuid, batch_number, status,
	pre_update_apps, pre_update_config, pre_update_version, updated_at`

// AddBatch inserts the per-device rows of a batch plan in one transaction
func (r *RolloutDeviceRepository) AddBatch(ctx context.Context, devices []*models.RolloutDevice) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO rollout_devices (` + rolloutDeviceColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, device := range devices {
		apps, err := encodeColumn(device.PreUpdateApps)
		if err != nil {
			return err
		}
		config, err := encodeColumn(device.PreUpdateConfig)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			device.RolloutID, device.DeviceUUID, device.BatchNumber, device.Status,
			apps, config, device.PreUpdateVersion, device.UpdatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *RolloutDeviceRepository) Get(ctx context.Context, rolloutID, deviceUUID string) (*models.RolloutDevice, error) {
	query := `SELECT ` + rolloutDeviceColumns + ` FROM rollout_devices
			  WHERE rollout_id = $1 AND device_uuid = $2`
	row := r.db.QueryRowContext(ctx, query, rolloutID, deviceUUID)

	device, err := scanRolloutDevice(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (r *RolloutDeviceRepository) GetByRollout(ctx context.Context, rolloutID string) ([]*models.RolloutDevice, error) {
	query := `SELECT ` + rolloutDeviceColumns + ` FROM rollout_devices
			  WHERE rollout_id = $1 ORDER BY batch_number, device_uuid`
	rows, err := r.db.QueryContext(ctx, query, rolloutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRolloutDevices(rows)
}

func (r *RolloutDeviceRepository) GetByBatch(ctx context.Context, rolloutID string, batchNumber int) ([]*models.RolloutDevice, error) {
	query := `SELECT ` + rolloutDeviceColumns + ` FROM rollout_devices
			  WHERE rollout_id = $1 AND batch_number = $2 ORDER BY device_uuid`
	rows, err := r.db.QueryContext(ctx, query, rolloutID, batchNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRolloutDevices(rows)
}

func (r *RolloutDeviceRepository) Update(ctx context.Context, device *models.RolloutDevice) error {
	apps, err := encodeColumn(device.PreUpdateApps)
	if err != nil {
		return err
	}
	config, err := encodeColumn(device.PreUpdateConfig)
	if err != nil {
		return err
	}

	query := `UPDATE rollout_devices SET
				batch_number = $1, status = $2, pre_update_apps = $3, pre_update_config = $4,
				pre_update_version = $5, updated_at = $6
			  WHERE rollout_id = $7 AND device_uuid = $8`
	result, err := r.db.ExecContext(ctx, query,
		device.BatchNumber, device.Status, apps, config,
		device.PreUpdateVersion, time.Now().UTC(), device.RolloutID, device.DeviceUUID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrRolloutDeviceNotFound
	}
	return nil
}

func scanRolloutDevice(scan func(dest ...interface{}) error) (*models.RolloutDevice, error) {
	var device models.RolloutDevice
	var apps, config string
	err := scan(
		&device.RolloutID, &device.DeviceUUID, &device.BatchNumber, &device.Status,
		&apps, &config, &device.PreUpdateVersion, &device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	device.PreUpdateApps = models.AppMap{}
	if err := decodeColumn(apps, &device.PreUpdateApps); err != nil {
		return nil, err
	}
	if err := decodeColumn(config, &device.PreUpdateConfig); err != nil {
		return nil, err
	}
	return &device, nil
}

func scanRolloutDevices(rows *sql.Rows) ([]*models.RolloutDevice, error) {
	var devices []*models.RolloutDevice
	for rows.Next() {
		device, err := scanRolloutDevice(rows.Scan)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}
