package repository

import (
	"context"
	"database/sql"

	"github.com/fleetsync/server/internal/models"
)

// RolloutEventRepository implements RolloutEventRepo for PostgreSQL/SQLite
type RolloutEventRepository struct {
	db *sql.DB
}

// NewRolloutEventRepository creates a new RolloutEventRepository
func NewRolloutEventRepository(db *sql.DB) *RolloutEventRepository {
	return &RolloutEventRepository{db: db}
}

func (r *RolloutEventRepository) Add(ctx context.Context, event *models.RolloutEvent) error {
	query := `INSERT INTO rollout_events (rollout_id, device_uuid, type, message, created_at)
			  VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query,
		event.RolloutID, event.DeviceUUID, event.Type, event.Message, event.CreatedAt,
	)
	return err
}

func (r *RolloutEventRepository) GetByRollout(ctx context.Context, rolloutID string, limit int) ([]*models.RolloutEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT id, rollout_id, device_uuid, type, message, created_at
			  FROM rollout_events WHERE rollout_id = $1 ORDER BY id DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, rolloutID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.RolloutEvent
	for rows.Next() {
		var event models.RolloutEvent
		if err := rows.Scan(&event.ID, &event.RolloutID, &event.DeviceUUID,
			&event.Type, &event.Message, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
