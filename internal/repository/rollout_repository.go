package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/fleetsync/server/internal/models"
)

// RolloutRepository implements RolloutRepo for PostgreSQL/SQLite
type RolloutRepository struct {
	db *sql.DB
}

// NewRolloutRepository creates a new RolloutRepository
func NewRolloutRepository(db *sql.DB) *RolloutRepository {
	return &RolloutRepository{db: db}
}

const rolloutColumns = `id, name, image_reference, template, status, status_reason,
	batch_percent, failure_threshold_percent, current_batch, total_batches,
	total_devices, updated_devices, healthy_devices, failed_devices, rolled_back_devices,
	created_by, created_at, started_at, paused_at, finished_at`

func (r *RolloutRepository) Add(ctx context.Context, rollout *models.Rollout) error {
	template, err := encodeColumn(rollout.Template)
	if err != nil {
		return err
	}

	query := `INSERT INTO rollouts (` + rolloutColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err = r.db.ExecContext(ctx, query,
		rollout.ID, rollout.Name, rollout.ImageReference, template, rollout.Status, rollout.StatusReason,
		rollout.BatchPercent, rollout.FailureThresholdPercent, rollout.CurrentBatch, rollout.TotalBatches,
		rollout.TotalDevices, rollout.UpdatedDevices, rollout.HealthyDevices, rollout.FailedDevices, rollout.RolledBackDevices,
		rollout.CreatedBy, rollout.CreatedAt, rollout.StartedAt, rollout.PausedAt, rollout.FinishedAt,
	)
	return err
}

func (r *RolloutRepository) GetByID(ctx context.Context, id string) (*models.Rollout, error) {
	query := `SELECT ` + rolloutColumns + ` FROM rollouts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	rollout, err := scanRollout(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rollout, nil
}

func (r *RolloutRepository) GetAll(ctx context.Context) ([]*models.Rollout, error) {
	query := `SELECT ` + rolloutColumns + ` FROM rollouts ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRollouts(rows)
}

func (r *RolloutRepository) GetByStatus(ctx context.Context, statuses ...models.RolloutStatus) ([]*models.Rollout, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = string(s)
	}

	query := `SELECT ` + rolloutColumns + ` FROM rollouts
			  WHERE status IN (` + strings.Join(placeholders, ", ") + `) ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRollouts(rows)
}

func (r *RolloutRepository) Update(ctx context.Context, rollout *models.Rollout) error {
	template, err := encodeColumn(rollout.Template)
	if err != nil {
		return err
	}

	// Placeholders numbered in appearance order for go-sqlite3 compatibility.
	query := `UPDATE rollouts SET
				name = $1, image_reference = $2, template = $3, status = $4, status_reason = $5,
				batch_percent = $6, failure_threshold_percent = $7, current_batch = $8, total_batches = $9,
				total_devices = $10, updated_devices = $11, healthy_devices = $12, failed_devices = $13,
				rolled_back_devices = $14, created_by = $15, started_at = $16, paused_at = $17, finished_at = $18
			  WHERE id = $19`
	result, err := r.db.ExecContext(ctx, query,
		rollout.Name, rollout.ImageReference, template, rollout.Status, rollout.StatusReason,
		rollout.BatchPercent, rollout.FailureThresholdPercent, rollout.CurrentBatch, rollout.TotalBatches,
		rollout.TotalDevices, rollout.UpdatedDevices, rollout.HealthyDevices, rollout.FailedDevices,
		rollout.RolledBackDevices, rollout.CreatedBy, rollout.StartedAt, rollout.PausedAt, rollout.FinishedAt,
		rollout.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrRolloutNotFound
	}
	return nil
}

func scanRollout(scan func(dest ...interface{}) error) (*models.Rollout, error) {
	var rollout models.Rollout
	var template string
	err := scan(
		&rollout.ID, &rollout.Name, &rollout.ImageReference, &template, &rollout.Status, &rollout.StatusReason,
		&rollout.BatchPercent, &rollout.FailureThresholdPercent, &rollout.CurrentBatch, &rollout.TotalBatches,
		&rollout.TotalDevices, &rollout.UpdatedDevices, &rollout.HealthyDevices, &rollout.FailedDevices,
		&rollout.RolledBackDevices, &rollout.CreatedBy, &rollout.CreatedAt, &rollout.StartedAt, &rollout.PausedAt,
		&rollout.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeColumn(template, &rollout.Template); err != nil {
		return nil, err
	}
	return &rollout, nil
}

func scanRollouts(rows *sql.Rows) ([]*models.Rollout, error) {
	var rollouts []*models.Rollout
	for rows.Next() {
		rollout, err := scanRollout(rows.Scan)
		if err != nil {
			return nil, err
		}
		rollouts = append(rollouts, rollout)
	}
	return rollouts, rows.Err()
}
