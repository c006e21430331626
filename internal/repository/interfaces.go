package repository

import (
	"context"

	"github.com/fleetsync/server/internal/models"
)

// DeviceRepo defines the interface for device persistence operations
type DeviceRepo interface {
	GetByUUID(ctx context.Context, uuid string) (*models.Device, error)
	GetAll(ctx context.Context, activeOnly bool) ([]*models.Device, error)
	GetByFleet(ctx context.Context, fleetID string, activeOnly bool) ([]*models.Device, error)
	Add(ctx context.Context, device *models.Device) error
	UpdateLastSeen(ctx context.Context, uuid string) error
	Deactivate(ctx context.Context, uuid string) (bool, error)
}

// TargetStateRepo owns the desired-state document per device. All mutating
// operations execute as a single transaction keyed by device uuid; a lost
// update surfaces as models.ErrVersionConflict.
type TargetStateRepo interface {
	Get(ctx context.Context, deviceUUID string) (*models.TargetState, error)
	CreateIfMissing(ctx context.Context, deviceUUID string) (*models.TargetState, error)
	SetDraft(ctx context.Context, deviceUUID string, snap models.StateSnapshot) (*models.TargetState, error)
	Deploy(ctx context.Context, deviceUUID, actor string) (*models.TargetState, error)
	CancelPendingDeploy(ctx context.Context, deviceUUID string) (*models.TargetState, error)
	Clear(ctx context.Context, deviceUUID, actor string) (*models.TargetState, error)
	GetRevisions(ctx context.Context, deviceUUID string, limit int) ([]*models.TargetStateRevision, error)
}

// CurrentStateRepo owns the last-reported state per device (last write wins)
type CurrentStateRepo interface {
	Get(ctx context.Context, deviceUUID string) (*models.CurrentState, error)
	Upsert(ctx context.Context, state *models.CurrentState) error
}

// RolloutRepo defines the interface for rollout persistence
type RolloutRepo interface {
	Add(ctx context.Context, rollout *models.Rollout) error
	GetByID(ctx context.Context, id string) (*models.Rollout, error)
	GetAll(ctx context.Context) ([]*models.Rollout, error)
	GetByStatus(ctx context.Context, statuses ...models.RolloutStatus) ([]*models.Rollout, error)
	Update(ctx context.Context, rollout *models.Rollout) error
}

// RolloutDeviceRepo defines the interface for per-device rollout rows
type RolloutDeviceRepo interface {
	AddBatch(ctx context.Context, devices []*models.RolloutDevice) error
	Get(ctx context.Context, rolloutID, deviceUUID string) (*models.RolloutDevice, error)
	GetByRollout(ctx context.Context, rolloutID string) ([]*models.RolloutDevice, error)
	GetByBatch(ctx context.Context, rolloutID string, batchNumber int) ([]*models.RolloutDevice, error)
	Update(ctx context.Context, device *models.RolloutDevice) error
}

// RolloutEventRepo defines the interface for the rollout audit trail
type RolloutEventRepo interface {
	Add(ctx context.Context, event *models.RolloutEvent) error
	GetByRollout(ctx context.Context, rolloutID string, limit int) ([]*models.RolloutEvent, error)
}
