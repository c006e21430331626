package models

import "time"

// TargetStateDocument is the state document served to devices
type TargetStateDocument struct {
	Apps    AppMap       `json:"apps"`
	Config  DeviceConfig `json:"config"`
	Version int64        `json:"version"`
}

// SetDraftRequest is the request body for writing a draft target state
type SetDraftRequest struct {
	Apps   AppMap       `json:"apps"`
	Config DeviceConfig `json:"config"`
}

// DeployRequest is the request body for deploying a pending draft
type DeployRequest struct {
	Actor string `json:"actor"`
}

// StateReport is one device's reported current state
type StateReport struct {
	Apps       AppMap            `json:"apps"`
	Config     DeviceConfig      `json:"config"`
	SystemInfo map[string]string `json:"systemInfo,omitempty"`
	Version    int64             `json:"version"`
}

// StateReportBatch maps device uuid to its report; a single PATCH may carry
// reports for several devices.
type StateReportBatch map[string]StateReport

// StateReportOutcome is the per-device result of a batch report
type StateReportOutcome struct {
	Accepted bool   `json:"accepted"`
	Changed  bool   `json:"changed"`
	Error    string `json:"error,omitempty"`
}

// StateReportResponse is returned for a batch state report
type StateReportResponse struct {
	Outcomes map[string]StateReportOutcome `json:"outcomes"`
}

// HealthSignalRequest is the request body for a device health signal
type HealthSignalRequest struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// RolloutActionRequest carries an optional operator-supplied reason
type RolloutActionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RollbackFailure describes one device whose rollback did not apply
type RollbackFailure struct {
	DeviceUUID string `json:"deviceUuid"`
	Error      string `json:"error"`
}

// RollbackReport is the partial-success result of rollback-all
type RollbackReport struct {
	DevicesRolledBack int               `json:"devicesRolledBack"`
	DevicesFailed     int               `json:"devicesFailed"`
	Failures          []RollbackFailure `json:"failures,omitempty"`
}

// DeviceListResponse is returned when listing devices
type DeviceListResponse struct {
	Devices    []*Device `json:"devices"`
	TotalCount int       `json:"totalCount"`
}

// RolloutListResponse is returned when listing rollouts
type RolloutListResponse struct {
	Rollouts   []*Rollout `json:"rollouts"`
	TotalCount int        `json:"totalCount"`
}

// ErrorResponse is the standard error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the health check body
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
