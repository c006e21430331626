package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RolloutStatus is the lifecycle state of a rollout
type RolloutStatus string

const (
	RolloutPending    RolloutStatus = "PENDING"
	RolloutInProgress RolloutStatus = "IN_PROGRESS"
	RolloutPaused     RolloutStatus = "PAUSED"
	RolloutCanceled   RolloutStatus = "CANCELED"
	RolloutCompleted  RolloutStatus = "COMPLETED"
	RolloutFailed     RolloutStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed
func (s RolloutStatus) IsTerminal() bool {
	return s == RolloutCompleted || s == RolloutCanceled || s == RolloutFailed
}

// CanTransition reports whether a transition to the given status is legal
func (s RolloutStatus) CanTransition(to RolloutStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch to {
	case RolloutInProgress:
		return s == RolloutPending || s == RolloutPaused
	case RolloutPaused:
		return s == RolloutInProgress
	case RolloutCanceled:
		return true
	case RolloutCompleted, RolloutFailed:
		return s == RolloutInProgress
	default:
		return false
	}
}

// Rollout is a batched fleet-wide target state update with health tracking
type Rollout struct {
	ID                      string        `json:"id"`
	Name                    string        `json:"name"`
	ImageReference          string        `json:"imageReference,omitempty"`
	Template                StateSnapshot `json:"template"`
	Status                  RolloutStatus `json:"status"`
	StatusReason            string        `json:"statusReason,omitempty"`
	BatchPercent            int           `json:"batchPercent"`
	FailureThresholdPercent int           `json:"failureThresholdPercent"`
	CurrentBatch            int           `json:"currentBatch"`
	TotalBatches            int           `json:"totalBatches"`
	TotalDevices            int           `json:"totalDevices"`
	UpdatedDevices          int           `json:"updatedDevices"`
	HealthyDevices          int           `json:"healthyDevices"`
	FailedDevices           int           `json:"failedDevices"`
	RolledBackDevices       int           `json:"rolledBackDevices"`
	CreatedBy               string        `json:"createdBy,omitempty"`
	CreatedAt               time.Time     `json:"createdAt"`
	StartedAt               *time.Time    `json:"startedAt,omitempty"`
	PausedAt                *time.Time    `json:"pausedAt,omitempty"`
	FinishedAt              *time.Time    `json:"finishedAt,omitempty"`
}

// CreateRolloutRequest is the request body for creating a rollout
type CreateRolloutRequest struct {
	Name                    string        `json:"name"`
	ImageReference          string        `json:"imageReference,omitempty"`
	Template                StateSnapshot `json:"template"`
	FleetID                 string        `json:"fleetId,omitempty"`
	DeviceUUIDs             []string      `json:"deviceUuids,omitempty"`
	BatchPercent            int           `json:"batchPercent"`
	FailureThresholdPercent int           `json:"failureThresholdPercent"`
	CreatedBy               string        `json:"createdBy,omitempty"`
	Start                   bool          `json:"start,omitempty"` // start immediately after create
}

// NewRollout creates a rollout in PENDING from a validated request
func NewRollout(req CreateRolloutRequest) (*Rollout, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ValidationError{"rollout name cannot be empty"}
	}
	if req.BatchPercent < 1 || req.BatchPercent > 100 {
		return nil, ValidationError{"batch percent must be between 1 and 100"}
	}
	if req.FailureThresholdPercent < 0 || req.FailureThresholdPercent > 100 {
		return nil, ValidationError{"failure threshold must be between 0 and 100"}
	}
	if err := ValidateSnapshot(req.Template); err != nil {
		return nil, err
	}

	return &Rollout{
		ID:                      uuid.New().String(),
		Name:                    name,
		ImageReference:          strings.TrimSpace(req.ImageReference),
		Template:                req.Template,
		Status:                  RolloutPending,
		BatchPercent:            req.BatchPercent,
		FailureThresholdPercent: req.FailureThresholdPercent,
		CreatedBy:               strings.TrimSpace(req.CreatedBy),
		CreatedAt:               time.Now().UTC(),
	}, nil
}

// RolloutDeviceStatus is the per-device state within a rollout
type RolloutDeviceStatus string

const (
	RolloutDevicePending    RolloutDeviceStatus = "PENDING"
	RolloutDeviceUpdating   RolloutDeviceStatus = "UPDATING"
	RolloutDeviceHealthy    RolloutDeviceStatus = "HEALTHY"
	RolloutDeviceFailed     RolloutDeviceStatus = "FAILED"
	RolloutDeviceRolledBack RolloutDeviceStatus = "ROLLED_BACK"
)

// RolloutDevice is a per-device row within a rollout. The PreUpdate fields
// are the rollout-scoped snapshot captured at batch-deploy time; they are
// what a rollback restores.
type RolloutDevice struct {
	RolloutID        string              `json:"rolloutId"`
	DeviceUUID       string              `json:"deviceUuid"`
	BatchNumber      int                 `json:"batchNumber"`
	Status           RolloutDeviceStatus `json:"status"`
	PreUpdateApps    AppMap              `json:"preUpdateApps,omitempty"`
	PreUpdateConfig  DeviceConfig        `json:"preUpdateConfig,omitempty"`
	PreUpdateVersion int64               `json:"preUpdateVersion"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// PreUpdateSnapshot returns the captured pre-update content, or false if the
// device was never deployed to in this rollout.
func (d *RolloutDevice) PreUpdateSnapshot() (StateSnapshot, bool) {
	if d.PreUpdateVersion == 0 {
		return StateSnapshot{}, false
	}
	return StateSnapshot{Apps: d.PreUpdateApps, Config: d.PreUpdateConfig}, true
}

// RolloutEvent is an append-only audit entry for a rollout
type RolloutEvent struct {
	ID         int64     `json:"id"`
	RolloutID  string    `json:"rolloutId"`
	DeviceUUID string    `json:"deviceUuid,omitempty"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Rollout event types
const (
	EventRolloutCreated   = "rollout_created"
	EventRolloutStarted   = "rollout_started"
	EventRolloutPaused    = "rollout_paused"
	EventRolloutResumed   = "rollout_resumed"
	EventRolloutCanceled  = "rollout_canceled"
	EventRolloutCompleted = "rollout_completed"
	EventRolloutFailed    = "rollout_failed"
	EventBatchDeployed    = "batch_deployed"
	EventDeviceHealthy    = "device_healthy"
	EventDeviceFailed     = "device_failed"
	EventDeviceRolledBack = "device_rolled_back"
	EventThresholdBreach  = "failure_threshold_breached"
	EventBatchStuck       = "batch_stuck"
)
