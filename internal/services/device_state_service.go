package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsync/server/internal/models"
	"github.com/fleetsync/server/internal/repository"
)

// FetchResult is the outcome of a conditional target state fetch
type FetchResult struct {
	NotModified bool
	Document    *models.TargetStateDocument
	ETag        string
}

// DeviceStateService implements the device-facing pull protocol: conditional
// target state fetch with the deployment gate, and wholesale current state
// reporting.
type DeviceStateService struct {
	targetRepo   repository.TargetStateRepo
	currentRepo  repository.CurrentStateRepo
	deviceRepo   repository.DeviceRepo
	differ       *StateDiffer
	fingerprints *FingerprintService
	hub          *NotificationHub
	metrics      *FleetMetrics
}

// NewDeviceStateService creates a new DeviceStateService
func NewDeviceStateService(
	targetRepo repository.TargetStateRepo,
	currentRepo repository.CurrentStateRepo,
	deviceRepo repository.DeviceRepo,
	differ *StateDiffer,
	fingerprints *FingerprintService,
	hub *NotificationHub,
	metrics *FleetMetrics,
) *DeviceStateService {
	return &DeviceStateService{
		targetRepo:   targetRepo,
		currentRepo:  currentRepo,
		deviceRepo:   deviceRepo,
		differ:       differ,
		fingerprints: fingerprints,
		hub:          hub,
		metrics:      metrics,
	}
}

// FetchTargetState resolves a device's conditional fetch.
//
// The deployment gate is the core correctness rule here: while an undeployed
// draft exists the response is "not modified" no matter what token the device
// presented, so a draft can never leak to a device.
func (s *DeviceStateService) FetchTargetState(ctx context.Context, deviceUUID, ifNoneMatch string) (*FetchResult, error) {
	state, err := s.targetRepo.Get(ctx, deviceUUID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		// Device never registered a target state: serve the empty
		// document. The fingerprint is pure, so repeat fetches of the
		// synthesized state still cache.
		state = models.NewTargetState(deviceUUID)
	}

	etag, err := s.fingerprints.Fingerprint(state.Snapshot(), state.Version)
	if err != nil {
		return nil, err
	}

	s.touchDevice(ctx, deviceUUID)

	if state.NeedsDeployment {
		return &FetchResult{NotModified: true}, nil
	}
	if ifNoneMatch != "" && ifNoneMatch == etag {
		return &FetchResult{NotModified: true, ETag: etag}, nil
	}

	return &FetchResult{
		Document: &models.TargetStateDocument{
			Apps:    state.Apps,
			Config:  state.Config,
			Version: state.Version,
		},
		ETag: etag,
	}, nil
}

// ReportCurrentState applies a batch of device reports. Each device's report
// is validated and applied independently; a malformed entry never blocks the
// rest of the batch. The reported version is stored as-is, the device is
// trusted to echo what it last fetched.
func (s *DeviceStateService) ReportCurrentState(ctx context.Context, batch models.StateReportBatch) *models.StateReportResponse {
	response := &models.StateReportResponse{
		Outcomes: make(map[string]models.StateReportOutcome, len(batch)),
	}

	for deviceUUID, report := range batch {
		outcome := s.applyReport(ctx, deviceUUID, report)
		response.Outcomes[deviceUUID] = outcome
	}
	return response
}

func (s *DeviceStateService) applyReport(ctx context.Context, deviceUUID string, report models.StateReport) models.StateReportOutcome {
	if _, err := uuid.Parse(deviceUUID); err != nil {
		return models.StateReportOutcome{Error: "invalid device uuid"}
	}

	snap := models.StateSnapshot{Apps: report.Apps, Config: report.Config}
	if err := models.ValidateSnapshot(snap); err != nil {
		return models.StateReportOutcome{Error: err.Error()}
	}

	previous, err := s.currentRepo.Get(ctx, deviceUUID)
	if err != nil {
		log.Printf("Error loading current state for %s: %v", deviceUUID, err)
		return models.StateReportOutcome{Error: "database error"}
	}

	state := &models.CurrentState{
		DeviceUUID: deviceUUID,
		Apps:       report.Apps,
		Config:     report.Config,
		SystemInfo: report.SystemInfo,
		Version:    report.Version,
		ReportedAt: time.Now().UTC(),
	}
	if state.Apps == nil {
		state.Apps = models.AppMap{}
	}
	if err := s.currentRepo.Upsert(ctx, state); err != nil {
		log.Printf("Error storing current state for %s: %v", deviceUUID, err)
		return models.StateReportOutcome{Error: "database error"}
	}

	s.touchDevice(ctx, deviceUUID)

	var before models.StateSnapshot
	if previous != nil {
		before = previous.Snapshot()
	} else {
		before = models.EmptySnapshot()
	}

	diff, err := s.differ.Diff(before, state.Snapshot())
	if err != nil {
		// The report is already stored; treat a diff failure as "changed"
		// so downstream consumers re-read rather than miss an update.
		log.Printf("Error diffing state for %s: %v", deviceUUID, err)
		diff = StateDiff{Changed: true}
	}

	changed := diff.Changed || previous == nil
	if changed {
		s.hub.BroadcastToTopic(DeviceTopic(deviceUUID), WSMessage{
			Type: WSTypeStateChanged,
			Payload: StateChangedPayload{
				DeviceUUID:  deviceUUID,
				Version:     state.Version,
				AddedApps:   diff.AddedApps,
				RemovedApps: diff.RemovedApps,
			},
		})
	}
	s.metrics.RecordReport(ctx, changed)

	return models.StateReportOutcome{Accepted: true, Changed: changed}
}

// touchDevice records device liveness; fetch and report are the only
// contact points an occasionally-connected device has.
func (s *DeviceStateService) touchDevice(ctx context.Context, deviceUUID string) {
	if err := s.deviceRepo.UpdateLastSeen(ctx, deviceUUID); err != nil {
		log.Printf("Error updating last seen for %s: %v", deviceUUID, err)
	}
}
