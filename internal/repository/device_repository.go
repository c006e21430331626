package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/fleetsync/server/internal/models"
)

// DeviceRepository implements DeviceRepo for PostgreSQL/SQLite
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) GetByUUID(ctx context.Context, uuid string) (*models.Device, error) {
	query := `SELECT uuid, fleet_id, device_name, device_type, registered_at, last_seen_at, is_active
			  FROM devices WHERE uuid = $1`

	var device models.Device
	err := r.db.QueryRowContext(ctx, query, uuid).Scan(
		&device.UUID, &device.FleetID, &device.DeviceName, &device.DeviceType,
		&device.RegisteredAt, &device.LastSeenAt, &device.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *DeviceRepository) GetAll(ctx context.Context, activeOnly bool) ([]*models.Device, error) {
	query := `SELECT uuid, fleet_id, device_name, device_type, registered_at, last_seen_at, is_active
			  FROM devices ORDER BY registered_at`
	if activeOnly {
		query = `SELECT uuid, fleet_id, device_name, device_type, registered_at, last_seen_at, is_active
				 FROM devices WHERE is_active = true ORDER BY registered_at`
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDevices(rows)
}

func (r *DeviceRepository) GetByFleet(ctx context.Context, fleetID string, activeOnly bool) ([]*models.Device, error) {
	query := `SELECT uuid, fleet_id, device_name, device_type, registered_at, last_seen_at, is_active
			  FROM devices WHERE fleet_id = $1 ORDER BY registered_at`
	if activeOnly {
		query = `SELECT uuid, fleet_id, device_name, device_type, registered_at, last_seen_at, is_active
				 FROM devices WHERE fleet_id = $1 AND is_active = true ORDER BY registered_at`
	}

	rows, err := r.db.QueryContext(ctx, query, fleetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDevices(rows)
}

func scanDevices(rows *sql.Rows) ([]*models.Device, error) {
	var devices []*models.Device
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(&device.UUID, &device.FleetID, &device.DeviceName, &device.DeviceType,
			&device.RegisteredAt, &device.LastSeenAt, &device.IsActive); err != nil {
			return nil, err
		}
		devices = append(devices, &device)
	}
	return devices, rows.Err()
}

func (r *DeviceRepository) Add(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (uuid, fleet_id, device_name, device_type, registered_at, last_seen_at, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		device.UUID, device.FleetID, device.DeviceName, device.DeviceType,
		device.RegisteredAt, device.LastSeenAt, device.IsActive,
	)
	return err
}

func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, uuid string) error {
	query := `UPDATE devices SET last_seen_at = $1 WHERE uuid = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), uuid)
	return err
}

// Deactivate soft-deletes a device; the target state row survives
func (r *DeviceRepository) Deactivate(ctx context.Context, uuid string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE devices SET is_active = false WHERE uuid = $1`, uuid)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}
