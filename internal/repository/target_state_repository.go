package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetsync/server/internal/models"
)

// TargetStateRepository implements TargetStateRepo for PostgreSQL/SQLite.
//
// Every mutating operation is a single read-modify-write transaction with a
// compare-and-swap on the version column, so concurrent writers on the same
// device serialize and a lost update surfaces as models.ErrVersionConflict
// instead of a silent overwrite.
type TargetStateRepository struct {
	db *sql.DB
}

// NewTargetStateRepository creates a new TargetStateRepository
func NewTargetStateRepository(db *sql.DB) *TargetStateRepository {
	return &TargetStateRepository{db: db}
}

func (r *TargetStateRepository) Get(ctx context.Context, deviceUUID string) (*models.TargetState, error) {
	return getTargetState(ctx, r.db, deviceUUID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getTargetState(ctx context.Context, q rowQuerier, deviceUUID string) (*models.TargetState, error) {
	query := `SELECT device_uuid, apps, config, version, needs_deployment, last_deployed_at, deployed_by, updated_at
			  FROM target_states WHERE device_uuid = $1`

	var state models.TargetState
	var apps, config string
	err := q.QueryRowContext(ctx, query, deviceUUID).Scan(
		&state.DeviceUUID, &apps, &config, &state.Version,
		&state.NeedsDeployment, &state.LastDeployedAt, &state.DeployedBy, &state.UpdatedAt,
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
	return &state, nil
}

// CreateIfMissing provisions the empty version-1 row on first device contact
func (r *TargetStateRepository) CreateIfMissing(ctx context.Context, deviceUUID string) (*models.TargetState, error) {
	state := models.NewTargetState(deviceUUID)
	apps, err := encodeColumn(state.Apps)
	if err != nil {
		return nil, err
	}
	config, err := encodeColumn(state.Config)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO target_states (device_uuid, apps, config, version, needs_deployment, updated_at)
			  VALUES ($1, $2, $3, $4, false, $5)
			  ON CONFLICT (device_uuid) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, deviceUUID, apps, config, state.Version, state.UpdatedAt); err != nil {
		return nil, err
	}
	return r.Get(ctx, deviceUUID)
}

// SetDraft overwrites apps/config and marks the state as needing deployment.
// The version does not change; the draft stays invisible to devices until a
// deploy commits it.
func (r *TargetStateRepository) SetDraft(ctx context.Context, deviceUUID string, snap models.StateSnapshot) (*models.TargetState, error) {
	if err := models.ValidateSnapshot(snap); err != nil {
		return nil, err
	}

	return r.mutate(ctx, deviceUUID, func(tx *sql.Tx, state *models.TargetState) error {
		if state.Version == 0 {
			// No row yet: the draft provisions it at version 1.
			return insertTargetState(ctx, tx, deviceUUID, snap, 1, true)
		}

		apps, err := encodeColumn(snap.Apps)
		if err != nil {
			return err
		}
		config, err := encodeColumn(snap.Config)
		if err != nil {
			return err
		}

		// Placeholders are numbered in appearance order: go-sqlite3 assigns
		// ordinals by first occurrence in the SQL text, not by the digit.
		query := `UPDATE target_states
				  SET apps = $1, config = $2, needs_deployment = true, updated_at = $3
				  WHERE device_uuid = $4 AND version = $5`
		return execCAS(ctx, tx, query, apps, config, time.Now().UTC(), deviceUUID, state.Version)
	})
}

// Deploy freezes the pending draft: a revision of the pre-deploy document is
// appended first, then the version increments and the gate opens.
func (r *TargetStateRepository) Deploy(ctx context.Context, deviceUUID, actor string) (*models.TargetState, error) {
	return r.mutate(ctx, deviceUUID, func(tx *sql.Tx, state *models.TargetState) error {
		if state.Version == 0 || !state.NeedsDeployment {
			return models.ErrNothingToDeploy
		}
		if err := insertRevision(ctx, tx, state); err != nil {
			return err
		}

		now := time.Now().UTC()
		query := `UPDATE target_states
				  SET version = $1, needs_deployment = false, deployed_by = $2, last_deployed_at = $3, updated_at = $3
				  WHERE device_uuid = $4 AND version = $5`
		return execCAS(ctx, tx, query, state.Version+1, actor, now, deviceUUID, state.Version)
	})
}

// CancelPendingDeploy discards the draft, restoring the most recently
// deployed content (or empty when the device has never deployed). The
// version is untouched: nothing new ever became visible.
func (r *TargetStateRepository) CancelPendingDeploy(ctx context.Context, deviceUUID string) (*models.TargetState, error) {
	return r.mutate(ctx, deviceUUID, func(tx *sql.Tx, state *models.TargetState) error {
		if state.Version == 0 || !state.NeedsDeployment {
			return models.ErrNothingToCancel
		}

		snap := models.EmptySnapshot()
		revisions, err := getRevisions(ctx, tx, deviceUUID, 1)
		if err != nil {
			return err
		}
		if len(revisions) > 0 {
			snap = models.StateSnapshot{Apps: revisions[0].Apps, Config: revisions[0].Config}
		}

		apps, err := encodeColumn(snap.Apps)
		if err != nil {
			return err
		}
		config, err := encodeColumn(snap.Config)
		if err != nil {
			return err
		}

		query := `UPDATE target_states
				  SET apps = $1, config = $2, needs_deployment = false, updated_at = $3
				  WHERE device_uuid = $4 AND version = $5`
		return execCAS(ctx, tx, query, apps, config, time.Now().UTC(), deviceUUID, state.Version)
	})
}

// Clear empties apps/config as a committed write: revision first, then
// version increment, same as a deploy of the empty document.
func (r *TargetStateRepository) Clear(ctx context.Context, deviceUUID, actor string) (*models.TargetState, error) {
	return r.mutate(ctx, deviceUUID, func(tx *sql.Tx, state *models.TargetState) error {
		if state.Version == 0 {
			return insertTargetState(ctx, tx, deviceUUID, models.EmptySnapshot(), 1, false)
		}
		if err := insertRevision(ctx, tx, state); err != nil {
			return err
		}

		apps, err := encodeColumn(models.AppMap{})
		if err != nil {
			return err
		}
		config, err := encodeColumn(models.DeviceConfig{})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		query := `UPDATE target_states
				  SET apps = $1, config = $2, version = $3, needs_deployment = false, deployed_by = $4, last_deployed_at = $5, updated_at = $5
				  WHERE device_uuid = $6 AND version = $7`
		return execCAS(ctx, tx, query, apps, config, state.Version+1, actor, now, deviceUUID, state.Version)
	})
}

func (r *TargetStateRepository) GetRevisions(ctx context.Context, deviceUUID string, limit int) ([]*models.TargetStateRevision, error) {
	return getRevisions(ctx, r.db, deviceUUID, limit)
}

// mutate runs fn inside a transaction against the current row state and
// returns the post-condition document. A missing row is passed to fn as a
// zero-version state.
func (r *TargetStateRepository) mutate(ctx context.Context, deviceUUID string, fn func(tx *sql.Tx, state *models.TargetState) error) (*models.TargetState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	state, err := getTargetState(ctx, tx, deviceUUID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &models.TargetState{DeviceUUID: deviceUUID, Apps: models.AppMap{}}
	}

	if err := fn(tx, state); err != nil {
		return nil, err
	}

	result, err := getTargetState(ctx, tx, deviceUUID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func insertTargetState(ctx context.Context, tx *sql.Tx, deviceUUID string, snap models.StateSnapshot, version int64, needsDeployment bool) error {
	apps, err := encodeColumn(snap.Apps)
	if err != nil {
		return err
	}
	config, err := encodeColumn(snap.Config)
	if err != nil {
		return err
	}

	query := `INSERT INTO target_states (device_uuid, apps, config, version, needs_deployment, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = tx.ExecContext(ctx, query, deviceUUID, apps, config, version, needsDeployment, time.Now().UTC())
	return err
}

func insertRevision(ctx context.Context, tx *sql.Tx, state *models.TargetState) error {
	apps, err := encodeColumn(state.Apps)
	if err != nil {
		return err
	}
	config, err := encodeColumn(state.Config)
	if err != nil {
		return err
	}

	query := `INSERT INTO target_state_revisions (device_uuid, apps, config, version, deployed_at)
			  VALUES ($1, $2, $3, $4, $5)`
	_, err = tx.ExecContext(ctx, query, state.DeviceUUID, apps, config, state.Version, time.Now().UTC())
	return err
}

// execCAS runs an UPDATE guarded by the version read at the start of the
// transaction. Zero rows affected means another writer committed first.
func execCAS(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

type queryContexter interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func getRevisions(ctx context.Context, q queryContexter, deviceUUID string, limit int) ([]*models.TargetStateRevision, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT device_uuid, apps, config, version, deployed_at
			  FROM target_state_revisions WHERE device_uuid = $1 ORDER BY id DESC LIMIT $2`

	rows, err := q.QueryContext(ctx, query, deviceUUID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revisions []*models.TargetStateRevision
	for rows.Next() {
		var rev models.TargetStateRevision
		var apps, config string
		if err := rows.Scan(&rev.DeviceUUID, &apps, &config, &rev.Version, &rev.DeployedAt); err != nil {
			return nil, err
		}
		rev.Apps = models.AppMap{}
		if err := decodeColumn(apps, &rev.Apps); err != nil {
			return nil, fmt.Errorf("revision for %s: %w", deviceUUID, err)
		}
		if err := decodeColumn(config, &rev.Config); err != nil {
			return nil, fmt.Errorf("revision for %s: %w", deviceUUID, err)
		}
		revisions = append(revisions, &rev)
	}
	return revisions, rows.Err()
}
