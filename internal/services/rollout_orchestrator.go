package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetsync/server/internal/models"
	"github.com/fleetsync/server/internal/observability"
	"github.com/fleetsync/server/internal/repository"
)

// StuckBatchPolicy decides what happens when a batch stops receiving health
// signals for longer than the grace period
type StuckBatchPolicy string

const (
	StuckPause   StuckBatchPolicy = "pause"
	StuckProceed StuckBatchPolicy = "proceed"
	StuckFail    StuckBatchPolicy = "fail"
)

// OrchestratorConfig holds rollout policy knobs. Batch sizing and failure
// thresholds live on each rollout; these are the fleet-wide defaults for
// everything else.
type OrchestratorConfig struct {
	TickInterval time.Duration
	GracePeriod  time.Duration
	OnStuck      StuckBatchPolicy
	// AutoRollback makes a failure-threshold breach trigger RollbackAll
	// right after the automatic pause. Off by default: breaching the
	// threshold pauses and recommends, an operator decides.
	AutoRollback bool
}

// RolloutOrchestrator drives batched fleet updates: it computes batch plans,
// deploys target state per batch, tracks health, and advances or pauses
// according to the failure policy. One background tick evaluates in-progress
// rollouts so batches advance without a human trigger.
type RolloutOrchestrator struct {
	rolloutRepo repository.RolloutRepo
	statusRepo  repository.RolloutDeviceRepo
	eventRepo   repository.RolloutEventRepo
	deviceRepo  repository.DeviceRepo
	targetRepo  repository.TargetStateRepo
	currentRepo repository.CurrentStateRepo
	rollback    *RollbackManager
	locks       *RolloutLocks
	hub         *NotificationHub
	metrics     *FleetMetrics
	cfg         OrchestratorConfig

	mu       sync.Mutex
	ticker   *time.Ticker
	stopChan chan struct{}
}

// NewRolloutOrchestrator creates a new RolloutOrchestrator
func NewRolloutOrchestrator(
	rolloutRepo repository.RolloutRepo,
	statusRepo repository.RolloutDeviceRepo,
	eventRepo repository.RolloutEventRepo,
	deviceRepo repository.DeviceRepo,
	targetRepo repository.TargetStateRepo,
	currentRepo repository.CurrentStateRepo,
	rollback *RollbackManager,
	locks *RolloutLocks,
	hub *NotificationHub,
	metrics *FleetMetrics,
	cfg OrchestratorConfig,
) *RolloutOrchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.OnStuck == "" {
		cfg.OnStuck = StuckPause
	}
	return &RolloutOrchestrator{
		rolloutRepo: rolloutRepo,
		statusRepo:  statusRepo,
		eventRepo:   eventRepo,
		deviceRepo:  deviceRepo,
		targetRepo:  targetRepo,
		currentRepo: currentRepo,
		rollback:    rollback,
		locks:       locks,
		hub:         hub,
		metrics:     metrics,
		cfg:         cfg,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the background evaluation loop
func (o *RolloutOrchestrator) Start() {
	o.mu.Lock()
	if o.ticker != nil {
		o.mu.Unlock()
		return // Already started
	}
	o.stopChan = make(chan struct{})
	o.ticker = time.NewTicker(o.cfg.TickInterval)
	o.mu.Unlock()

	observability.Infof("Rollout orchestrator started (tick every %s)", o.cfg.TickInterval)

	go func() {
		for {
			select {
			case <-o.ticker.C:
				o.runTick()
			case <-o.stopChan:
				o.mu.Lock()
				o.ticker.Stop()
				o.ticker = nil
				o.mu.Unlock()
				observability.Info("Rollout orchestrator stopped")
				return
			}
		}
	}()
}

// Stop stops the background evaluation loop
func (o *RolloutOrchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ticker == nil {
		return // Already stopped
	}
	close(o.stopChan)
}

// runTick evaluates every in-progress rollout. A failure in one rollout
// never blocks evaluation of the others.
func (o *RolloutOrchestrator) runTick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rollouts, err := o.rolloutRepo.GetByStatus(ctx, models.RolloutInProgress)
	if err != nil {
		observability.Errorf("Tick: error listing rollouts: %v", err)
		return
	}

	for _, rollout := range rollouts {
		if err := o.tickRollout(ctx, rollout.ID); err != nil {
			observability.WithField("rollout_id", rollout.ID).Errorf("Tick: %v", err)
		}
	}
}

func (o *RolloutOrchestrator) tickRollout(ctx context.Context, rolloutID string) error {
	unlock := o.locks.Lock(rolloutID)
	defer unlock()

	// Re-read under the lock; an operator may have paused or canceled
	// between the listing and now.
	rollout, err := o.rolloutRepo.GetByID(ctx, rolloutID)
	if err != nil {
		return err
	}
	if rollout == nil || rollout.Status != models.RolloutInProgress {
		return nil
	}
	return o.evaluateLocked(ctx, rollout)
}

// Create computes the batch plan for a new rollout and persists it in
// PENDING. Batch sizing and failure threshold come from the request, never
// from orchestrator defaults.
func (o *RolloutOrchestrator) Create(ctx context.Context, req models.CreateRolloutRequest) (*models.Rollout, error) {
	rollout, err := models.NewRollout(req)
	if err != nil {
		return nil, err
	}

	targets, err := o.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, models.ValidationError{Message: "rollout has no target devices"}
	}

	batchSize := (len(targets)*rollout.BatchPercent + 99) / 100
	if batchSize < 1 {
		batchSize = 1
	}
	rollout.TotalDevices = len(targets)
	rollout.TotalBatches = (len(targets) + batchSize - 1) / batchSize

	if err := o.rolloutRepo.Add(ctx, rollout); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rows := make([]*models.RolloutDevice, len(targets))
	for i, device := range targets {
		rows[i] = &models.RolloutDevice{
			RolloutID:   rollout.ID,
			DeviceUUID:  device.UUID,
			BatchNumber: i/batchSize + 1,
			Status:      models.RolloutDevicePending,
			UpdatedAt:   now,
		}
	}
	if err := o.statusRepo.AddBatch(ctx, rows); err != nil {
		return nil, err
	}

	o.emitEvent(ctx, rollout.ID, "", models.EventRolloutCreated,
		fmt.Sprintf("%d devices in %d batches", rollout.TotalDevices, rollout.TotalBatches))

	if req.Start {
		return o.StartRollout(ctx, rollout.ID)
	}
	return rollout, nil
}

func (o *RolloutOrchestrator) resolveTargets(ctx context.Context, req models.CreateRolloutRequest) ([]*models.Device, error) {
	if len(req.DeviceUUIDs) > 0 {
		targets := make([]*models.Device, 0, len(req.DeviceUUIDs))
		seen := make(map[string]bool, len(req.DeviceUUIDs))
		for _, deviceUUID := range req.DeviceUUIDs {
			if seen[deviceUUID] {
				continue
			}
			seen[deviceUUID] = true
			device, err := o.deviceRepo.GetByUUID(ctx, deviceUUID)
			if err != nil {
				return nil, err
			}
			if device == nil || !device.IsActive {
				return nil, models.ValidationError{Message: "unknown or inactive device: " + deviceUUID}
			}
			targets = append(targets, device)
		}
		return targets, nil
	}
	if req.FleetID != "" {
		return o.deviceRepo.GetByFleet(ctx, req.FleetID, true)
	}
	return o.deviceRepo.GetAll(ctx, true)
}

// StartRollout transitions PENDING to IN_PROGRESS and deploys the first batch
func (o *RolloutOrchestrator) StartRollout(ctx context.Context, rolloutID string) (*models.Rollout, error) {
	unlock := o.locks.Lock(rolloutID)
	defer unlock()

	rollout, err := o.loadRollout(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if rollout.Status != models.RolloutPending {
		return nil, models.ErrInvalidTransition
	}

	now := time.Now().UTC()
	rollout.Status = models.RolloutInProgress
	rollout.StartedAt = &now
	rollout.CurrentBatch = 1
	if err := o.rolloutRepo.Update(ctx, rollout); err != nil {
		return nil, err
	}
	o.metrics.RecordTransition(ctx, models.RolloutInProgress)
	o.emitEvent(ctx, rolloutID, "", models.EventRolloutStarted, "")

	o.deployBatchLocked(ctx, rollout, 1)
	if err := o.refreshCountersLocked(ctx, rollout); err != nil {
		return nil, err
	}
	o.broadcastStatus(rollout)
	return rollout, nil
}

// deployBatchLocked writes the rollout template to every device of a batch.
// Each device is handled independently: a failing deploy marks that device
// FAILED and the loop continues.
func (o *RolloutOrchestrator) deployBatchLocked(ctx context.Context, rollout *models.Rollout, batchNumber int) {
	logger := observability.WithContext(ctx).WithField("rollout_id", rollout.ID)
	devices, err := o.statusRepo.GetByBatch(ctx, rollout.ID, batchNumber)
	if err != nil {
		logger.Errorf("error loading batch %d: %v", batchNumber, err)
		return
	}

	actor := "rollout:" + rollout.ID
	deployed := 0
	for _, device := range devices {
		if device.Status != models.RolloutDevicePending {
			continue
		}
		if err := o.deployDevice(ctx, rollout, device, actor); err != nil {
			logger.WithField("device_uuid", device.DeviceUUID).Errorf("deploy failed: %v", err)
			device.Status = models.RolloutDeviceFailed
			if updateErr := o.statusRepo.Update(ctx, device); updateErr != nil {
				logger.WithField("device_uuid", device.DeviceUUID).Errorf("error marking device failed: %v", updateErr)
			}
			o.emitEvent(ctx, rollout.ID, device.DeviceUUID, models.EventDeviceFailed, err.Error())
			continue
		}
		deployed++
	}

	o.emitEvent(ctx, rollout.ID, "", models.EventBatchDeployed,
		fmt.Sprintf("batch %d: deployed to %d of %d devices", batchNumber, deployed, len(devices)))
}

func (o *RolloutOrchestrator) deployDevice(ctx context.Context, rollout *models.Rollout, device *models.RolloutDevice, actor string) error {
	// Snapshot the pre-update state first; it is what a rollback restores.
	pre, err := o.targetRepo.CreateIfMissing(ctx, device.DeviceUUID)
	if err != nil {
		return fmt.Errorf("snapshot target state: %w", err)
	}
	device.PreUpdateApps = pre.Apps
	device.PreUpdateConfig = pre.Config
	device.PreUpdateVersion = pre.Version

	if _, err := o.targetRepo.SetDraft(ctx, device.DeviceUUID, rollout.Template); err != nil {
		return fmt.Errorf("set draft: %w", err)
	}
	state, err := o.targetRepo.Deploy(ctx, device.DeviceUUID, actor)
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	device.Status = models.RolloutDeviceUpdating
	device.UpdatedAt = time.Now().UTC()
	if err := o.statusRepo.Update(ctx, device); err != nil {
		return err
	}

	o.metrics.RecordDeploy(ctx, "rollout")
	o.hub.BroadcastToTopic(DeviceTopic(device.DeviceUUID), WSMessage{
		Type:    WSTypeTargetUpdated,
		Payload: TargetUpdatedPayload{DeviceUUID: device.DeviceUUID, Version: state.Version},
	})
	return nil
}

// HandleHealthSignal records a health verdict for one device and re-runs the
// batch policy evaluation.
func (o *RolloutOrchestrator) HandleHealthSignal(ctx context.Context, rolloutID, deviceUUID string, healthy bool, reason string) (*models.Rollout, error) {
	unlock := o.locks.Lock(rolloutID)
	defer unlock()

	rollout, err := o.loadRollout(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if rollout.Status.IsTerminal() {
		return nil, models.ErrInvalidTransition
	}

	device, err := o.statusRepo.Get(ctx, rolloutID, deviceUUID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, models.ErrRolloutDeviceNotFound
	}
	switch device.Status {
	case models.RolloutDeviceUpdating, models.RolloutDeviceHealthy, models.RolloutDeviceFailed:
		// Signals may flip a verdict either way until rollback.
	default:
		return nil, models.ConflictError{Message: "device was not updated by this rollout"}
	}

	if healthy {
		device.Status = models.RolloutDeviceHealthy
		o.emitEvent(ctx, rolloutID, deviceUUID, models.EventDeviceHealthy, reason)
	} else {
		device.Status = models.RolloutDeviceFailed
		o.emitEvent(ctx, rolloutID, deviceUUID, models.EventDeviceFailed, reason)
	}
	if err := o.statusRepo.Update(ctx, device); err != nil {
		return nil, err
	}

	if rollout.Status == models.RolloutInProgress {
		if err := o.evaluateLocked(ctx, rollout); err != nil {
			return nil, err
		}
	} else if err := o.refreshCountersLocked(ctx, rollout); err != nil {
		return nil, err
	}
	return rollout, nil
}

// AdvanceBatch is the operator override for moving to the next batch. It is
// only valid in IN_PROGRESS once the current batch has settled (all devices
// healthy, or the grace period elapsed).
func (o *RolloutOrchestrator) AdvanceBatch(ctx context.Context, rolloutID string) (*models.Rollout, error) {
	unlock := o.locks.Lock(rolloutID)
	defer unlock()

	rollout, err := o.loadRollout(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if rollout.Status != models.RolloutInProgress {
		return nil, models.ErrInvalidTransition
	}

	batch, err := o.statusRepo.GetByBatch(ctx, rollout.ID, rollout.CurrentBatch)
	if err != nil {
		return nil, err
	}
	if !batchSettled(batch) && !o.graceElapsed(batch) {
		return nil, models.ConflictError{Message: "current batch has devices still updating"}
	}

	if err := o.advanceLocked(ctx, rollout); err != nil {
		return nil, err
	}
	if err := o.refreshCountersLocked(ctx, rollout); err != nil {
		return nil, err
	}
	o.broadcastStatus(rollout)
	return rollout, nil
}

// Pause stops future batch advancement. Devices already updated keep their
// target state.
func (o *RolloutOrchestrator) Pause(ctx context.Context, rolloutID, reason string) (*models.Rollout, error) {
	unlock := o.locks.Lock(rolloutID)
	defer unlock()

	rollout, err := o.loadRollout(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if err := o.pauseLocked(ctx, rollout, reason); err != nil {
		return nil, err
	}
	return rollout, nil
}

func (o *RolloutOrchestrator) pauseLocked(ctx context.Context, rollout *models.Rollout, reason string) error {
	if !rollout.Status.CanTransition(models.RolloutPaused) {
		return models.ErrInvalidTransition
	}
	now := time.Now().UTC()
	rollout.Status = models.RolloutPaused
	rollout.PausedAt = &now
	rollout.StatusReason = reason
	if err := o.rolloutRepo.Update(ctx, rollout); err != nil {
		return err
	}
	o.metrics.RecordTransition(ctx, models.RolloutPaused)
	o.emitEvent(ctx, rollout.ID, "", models.EventRolloutPaused, reason)
	o.broadcastStatus(rollout)
	return nil
}

// Resume continues a paused rollout from its current batch
func (o *RolloutOrchestrator) Resume(ctx context.Context, rolloutID string) (*models.Rollout, error) {
	unlock := o.locks.Lock(rolloutID)
	defer unlock()

	rollout, err := o.loadRollout(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if rollout.Status != models.RolloutPaused {
		return nil, models.ErrInvalidTransition
	}

	rollout.Status = models.RolloutInProgress
	rollout.PausedAt = nil
	rollout.StatusReason = ""
	if err := o.rolloutRepo.Update(ctx, rollout); err != nil {
		return nil, err
	}
	o.metrics.RecordTransition(ctx, models.RolloutInProgress)
	o.emitEvent(ctx, rolloutID, "", models.EventRolloutResumed, "")
	o.broadcastStatus(rollout)
	return rollout, nil
}

// Cancel terminates a rollout from any non-terminal state. Devices already
// updated are not rolled back; that is a separate explicit action.
func (o *RolloutOrchestrator) Cancel(ctx context.Context, rolloutID, reason string) (*models.Rollout, error) {
	unlock := o.locks.Lock(rolloutID)
	defer unlock()

	rollout, err := o.loadRollout(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if !rollout.Status.CanTransition(models.RolloutCanceled) {
		return nil, models.ErrInvalidTransition
	}

	now := time.Now().UTC()
	rollout.Status = models.RolloutCanceled
	rollout.FinishedAt = &now
	rollout.StatusReason = reason
	if err := o.rolloutRepo.Update(ctx, rollout); err != nil {
		return nil, err
	}
	o.metrics.RecordTransition(ctx, models.RolloutCanceled)
	o.emitEvent(ctx, rolloutID, "", models.EventRolloutCanceled, reason)
	o.broadcastStatus(rollout)
	return rollout, nil
}

// evaluateLocked applies the batch policy to an in-progress rollout:
// convergence inference, counter refresh, failure-threshold check, batch
// advancement, stuck-batch handling. Per-device errors are isolated.
func (o *RolloutOrchestrator) evaluateLocked(ctx context.Context, rollout *models.Rollout) error {
	batch, err := o.statusRepo.GetByBatch(ctx, rollout.ID, rollout.CurrentBatch)
	if err != nil {
		return err
	}

	// A device that reports the deployed version has converged even if no
	// explicit health signal ever arrives.
	for _, device := range batch {
		if device.Status != models.RolloutDeviceUpdating {
			continue
		}
		converged, err := o.deviceConverged(ctx, device.DeviceUUID)
		if err != nil {
			observability.WithField("rollout_id", rollout.ID).
				WithField("device_uuid", device.DeviceUUID).Errorf("convergence check: %v", err)
			continue
		}
		if converged {
			device.Status = models.RolloutDeviceHealthy
			if err := o.statusRepo.Update(ctx, device); err != nil {
				observability.WithField("rollout_id", rollout.ID).
					WithField("device_uuid", device.DeviceUUID).Errorf("error marking device healthy: %v", err)
				continue
			}
			o.emitEvent(ctx, rollout.ID, device.DeviceUUID, models.EventDeviceHealthy, "reported state converged to target version")
		}
	}

	if err := o.refreshCountersLocked(ctx, rollout); err != nil {
		return err
	}

	batch, err = o.statusRepo.GetByBatch(ctx, rollout.ID, rollout.CurrentBatch)
	if err != nil {
		return err
	}
	var failed, updating int
	for _, device := range batch {
		switch device.Status {
		case models.RolloutDeviceFailed:
			failed++
		case models.RolloutDeviceUpdating:
			updating++
		}
	}

	if len(batch) > 0 && failed*100 > rollout.FailureThresholdPercent*len(batch) {
		o.emitEvent(ctx, rollout.ID, "", models.EventThresholdBreach,
			fmt.Sprintf("batch %d: %d of %d devices failed; rollback recommended", rollout.CurrentBatch, failed, len(batch)))
		if err := o.pauseLocked(ctx, rollout, "failure threshold breached"); err != nil {
			return err
		}
		if o.cfg.AutoRollback {
			report, err := o.rollback.rollbackAllLocked(ctx, rollout, "automatic rollback after threshold breach")
			if err != nil {
				observability.WithField("rollout_id", rollout.ID).Errorf("automatic rollback: %v", err)
			} else {
				observability.WithField("rollout_id", rollout.ID).Infof(
					"automatic rollback: %d rolled back, %d failed",
					report.DevicesRolledBack, report.DevicesFailed)
			}
		}
		return nil
	}

	// A settled batch under the failure threshold advances on its own; the
	// surviving failed devices stay behind for rollback or retry.
	if len(batch) > 0 && batchSettled(batch) {
		if err := o.advanceLocked(ctx, rollout); err != nil {
			return err
		}
		if err := o.refreshCountersLocked(ctx, rollout); err != nil {
			return err
		}
		o.broadcastStatus(rollout)
		return nil
	}

	if updating > 0 && o.graceElapsed(batch) {
		o.emitEvent(ctx, rollout.ID, "", models.EventBatchStuck,
			fmt.Sprintf("batch %d: no health signal within grace period (policy: %s)", rollout.CurrentBatch, o.cfg.OnStuck))
		switch o.cfg.OnStuck {
		case StuckProceed:
			if err := o.advanceLocked(ctx, rollout); err != nil {
				return err
			}
		case StuckFail:
			now := time.Now().UTC()
			rollout.Status = models.RolloutFailed
			rollout.FinishedAt = &now
			rollout.StatusReason = "batch stuck beyond grace period"
			if err := o.rolloutRepo.Update(ctx, rollout); err != nil {
				return err
			}
			o.metrics.RecordTransition(ctx, models.RolloutFailed)
			o.emitEvent(ctx, rollout.ID, "", models.EventRolloutFailed, rollout.StatusReason)
		default:
			return o.pauseLocked(ctx, rollout, "batch stuck beyond grace period")
		}
		o.broadcastStatus(rollout)
	}
	return nil
}

// advanceLocked moves to the next batch, or completes the rollout when the
// last batch is done.
func (o *RolloutOrchestrator) advanceLocked(ctx context.Context, rollout *models.Rollout) error {
	if rollout.CurrentBatch >= rollout.TotalBatches {
		now := time.Now().UTC()
		rollout.Status = models.RolloutCompleted
		rollout.FinishedAt = &now
		if err := o.rolloutRepo.Update(ctx, rollout); err != nil {
			return err
		}
		o.metrics.RecordTransition(ctx, models.RolloutCompleted)
		o.emitEvent(ctx, rollout.ID, "", models.EventRolloutCompleted, "")
		return nil
	}

	rollout.CurrentBatch++
	if err := o.rolloutRepo.Update(ctx, rollout); err != nil {
		return err
	}
	o.deployBatchLocked(ctx, rollout, rollout.CurrentBatch)
	return nil
}

func (o *RolloutOrchestrator) deviceConverged(ctx context.Context, deviceUUID string) (bool, error) {
	target, err := o.targetRepo.Get(ctx, deviceUUID)
	if err != nil {
		return false, err
	}
	current, err := o.currentRepo.Get(ctx, deviceUUID)
	if err != nil {
		return false, err
	}
	if target == nil || current == nil {
		return false, nil
	}
	return !target.NeedsDeployment && current.Version == target.Version, nil
}

func (o *RolloutOrchestrator) refreshCountersLocked(ctx context.Context, rollout *models.Rollout) error {
	return refreshRolloutCounters(ctx, o.statusRepo, o.rolloutRepo, rollout)
}

func batchSettled(batch []*models.RolloutDevice) bool {
	for _, device := range batch {
		if device.Status == models.RolloutDeviceUpdating || device.Status == models.RolloutDevicePending {
			return false
		}
	}
	return true
}

// graceElapsed reports whether the newest activity in a batch is older than
// the grace period. A zero grace period disables the stuck-batch policy.
func (o *RolloutOrchestrator) graceElapsed(batch []*models.RolloutDevice) bool {
	if o.cfg.GracePeriod <= 0 || len(batch) == 0 {
		return false
	}
	var newest time.Time
	for _, device := range batch {
		if device.UpdatedAt.After(newest) {
			newest = device.UpdatedAt
		}
	}
	return time.Since(newest) > o.cfg.GracePeriod
}

func (o *RolloutOrchestrator) loadRollout(ctx context.Context, rolloutID string) (*models.Rollout, error) {
	rollout, err := o.rolloutRepo.GetByID(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	if rollout == nil {
		return nil, models.ErrRolloutNotFound
	}
	return rollout, nil
}

func (o *RolloutOrchestrator) emitEvent(ctx context.Context, rolloutID, deviceUUID, eventType, message string) {
	event := &models.RolloutEvent{
		RolloutID:  rolloutID,
		DeviceUUID: deviceUUID,
		Type:       eventType,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.eventRepo.Add(ctx, event); err != nil {
		observability.WithField("rollout_id", rolloutID).Errorf("error recording event %s: %v", eventType, err)
	}
}

func (o *RolloutOrchestrator) broadcastStatus(rollout *models.Rollout) {
	o.hub.BroadcastToTopic(RolloutTopic(rollout.ID), WSMessage{
		Type: WSTypeRolloutStatus,
		Payload: RolloutStatusPayload{
			RolloutID:    rollout.ID,
			Status:       string(rollout.Status),
			CurrentBatch: rollout.CurrentBatch,
			Healthy:      rollout.HealthyDevices,
			Failed:       rollout.FailedDevices,
			RolledBack:   rollout.RolledBackDevices,
		},
	})
}
