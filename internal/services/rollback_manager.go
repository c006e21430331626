package services

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetsync/server/internal/models"
	"github.com/fleetsync/server/internal/observability"
	"github.com/fleetsync/server/internal/repository"
)

// RollbackManager restores pre-update target state for devices a rollout has
// touched. Rollback is never automatic state-machine behavior on the rollout
// itself; it only rewrites per-device target state and marks the rows.
type RollbackManager struct {
	rolloutRepo repository.RolloutRepo
	statusRepo  repository.RolloutDeviceRepo
	eventRepo   repository.RolloutEventRepo
	targetRepo  repository.TargetStateRepo
	locks       *RolloutLocks
	hub         *NotificationHub
	metrics     *FleetMetrics
}

// NewRollbackManager creates a new RollbackManager
func NewRollbackManager(
	rolloutRepo repository.RolloutRepo,
	statusRepo repository.RolloutDeviceRepo,
	eventRepo repository.RolloutEventRepo,
	targetRepo repository.TargetStateRepo,
	locks *RolloutLocks,
	hub *NotificationHub,
	metrics *FleetMetrics,
) *RollbackManager {
	return &RollbackManager{
		rolloutRepo: rolloutRepo,
		statusRepo:  statusRepo,
		eventRepo:   eventRepo,
		targetRepo:  targetRepo,
		locks:       locks,
		hub:         hub,
		metrics:     metrics,
	}
}

// RollbackDevice restores one device to its pre-update target state. Calling
// it again for an already rolled back device is a no-op.
func (m *RollbackManager) RollbackDevice(ctx context.Context, rolloutID, deviceUUID, reason string) (*models.RolloutDevice, error) {
	unlock := m.locks.Lock(rolloutID)
	defer unlock()

	rollout, err := m.rolloutRepo.GetByID(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if rollout == nil {
		return nil, models.ErrRolloutNotFound
	}

	device, err := m.statusRepo.Get(ctx, rolloutID, deviceUUID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, models.ErrRolloutDeviceNotFound
	}
	if device.Status == models.RolloutDeviceRolledBack {
		return device, nil
	}

	if err := m.rollbackDeviceLocked(ctx, rollout, device, reason); err != nil {
		return nil, err
	}
	if err := refreshRolloutCounters(ctx, m.statusRepo, m.rolloutRepo, rollout); err != nil {
		return nil, err
	}
	return device, nil
}

// RollbackAll restores every device this rollout updated. Failures are
// collected, not propagated: the report says which devices could not be
// rolled back, and those keep their prior status so the call can be retried.
func (m *RollbackManager) RollbackAll(ctx context.Context, rolloutID, reason string) (*models.RollbackReport, error) {
	unlock := m.locks.Lock(rolloutID)
	defer unlock()

	rollout, err := m.rolloutRepo.GetByID(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if rollout == nil {
		return nil, models.ErrRolloutNotFound
	}
	return m.rollbackAllLocked(ctx, rollout, reason)
}

// rollbackAllLocked is the shared body of RollbackAll; the orchestrator
// calls it directly for automatic rollback, already holding the lock.
func (m *RollbackManager) rollbackAllLocked(ctx context.Context, rollout *models.Rollout, reason string) (*models.RollbackReport, error) {
	devices, err := m.statusRepo.GetByRollout(ctx, rollout.ID)
	if err != nil {
		return nil, err
	}

	report := &models.RollbackReport{}
	for _, device := range devices {
		switch device.Status {
		case models.RolloutDeviceUpdating, models.RolloutDeviceHealthy, models.RolloutDeviceFailed:
			// Updated by this rollout, eligible for restore.
		default:
			continue
		}
		if err := m.rollbackDeviceLocked(ctx, rollout, device, reason); err != nil {
			observability.WithContext(ctx).WithField("rollout_id", rollout.ID).
				WithField("device_uuid", device.DeviceUUID).Errorf("rollback failed: %v", err)
			report.DevicesFailed++
			report.Failures = append(report.Failures, models.RollbackFailure{
				DeviceUUID: device.DeviceUUID,
				Error:      err.Error(),
			})
			continue
		}
		report.DevicesRolledBack++
	}

	if err := refreshRolloutCounters(ctx, m.statusRepo, m.rolloutRepo, rollout); err != nil {
		return nil, err
	}
	return report, nil
}

func (m *RollbackManager) rollbackDeviceLocked(ctx context.Context, rollout *models.Rollout, device *models.RolloutDevice, reason string) error {
	snapshot, ok := device.PreUpdateSnapshot()
	if !ok {
		return models.ErrNoPriorSnapshot
	}

	actor := "rollback:" + rollout.ID
	if _, err := m.targetRepo.SetDraft(ctx, device.DeviceUUID, snapshot); err != nil {
		return fmt.Errorf("set draft: %w", err)
	}
	state, err := m.targetRepo.Deploy(ctx, device.DeviceUUID, actor)
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	device.Status = models.RolloutDeviceRolledBack
	device.UpdatedAt = time.Now().UTC()
	if err := m.statusRepo.Update(ctx, device); err != nil {
		return err
	}

	m.metrics.RecordRollback(ctx)
	m.emitEvent(ctx, rollout.ID, device.DeviceUUID, reason)
	m.hub.BroadcastToTopic(DeviceTopic(device.DeviceUUID), WSMessage{
		Type:    WSTypeTargetUpdated,
		Payload: TargetUpdatedPayload{DeviceUUID: device.DeviceUUID, Version: state.Version},
	})
	m.hub.BroadcastToTopic(RolloutTopic(rollout.ID), WSMessage{
		Type: WSTypeRolloutDevice,
		Payload: map[string]string{
			"rolloutId":  rollout.ID,
			"deviceUuid": device.DeviceUUID,
			"status":     string(device.Status),
		},
	})
	return nil
}

func (m *RollbackManager) emitEvent(ctx context.Context, rolloutID, deviceUUID, message string) {
	event := &models.RolloutEvent{
		RolloutID:  rolloutID,
		DeviceUUID: deviceUUID,
		Type:       models.EventDeviceRolledBack,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.eventRepo.Add(ctx, event); err != nil {
		observability.WithField("rollout_id", rolloutID).Errorf("error recording rollback event: %v", err)
	}
}

// refreshRolloutCounters recomputes the rollout's aggregate counters from
// per-device rows and persists them.
func refreshRolloutCounters(ctx context.Context, statusRepo repository.RolloutDeviceRepo, rolloutRepo repository.RolloutRepo, rollout *models.Rollout) error {
	devices, err := statusRepo.GetByRollout(ctx, rollout.ID)
	if err != nil {
		return err
	}

	rollout.UpdatedDevices = 0
	rollout.HealthyDevices = 0
	rollout.FailedDevices = 0
	rollout.RolledBackDevices = 0
	for _, device := range devices {
		// UpdatedDevices and FailedDevices stay disjoint so their sum never
		// exceeds TotalDevices.
		switch device.Status {
		case models.RolloutDeviceUpdating:
			rollout.UpdatedDevices++
		case models.RolloutDeviceHealthy:
			rollout.UpdatedDevices++
			rollout.HealthyDevices++
		case models.RolloutDeviceRolledBack:
			rollout.UpdatedDevices++
			rollout.RolledBackDevices++
		case models.RolloutDeviceFailed:
			rollout.FailedDevices++
		}
	}
	return rolloutRepo.Update(ctx, rollout)
}
