package models

import (
	"strings"
	"time"
)

// AppService is a single service (container) within an app
type AppService struct {
	ServiceID      int64             `json:"serviceId"`
	ServiceName    string            `json:"serviceName"`
	ImageReference string            `json:"imageReference"`
	PortMappings   []string          `json:"portMappings,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	VolumeMounts   []string          `json:"volumeMounts,omitempty"`
}

// App is a deployable unit composed of one or more services
type App struct {
	AppName  string       `json:"appName"`
	Services []AppService `json:"services,omitempty"`
}

// AppMap maps opaque numeric app ids to app definitions
type AppMap map[int64]App

// DeviceConfig holds device settings. Fields consumed by state comparison
// are named; everything else rides in Extra.
type DeviceConfig struct {
	LogLevel            string            `json:"logLevel,omitempty"`
	PollIntervalSeconds int               `json:"pollIntervalSeconds,omitempty"`
	VPNEnabled          bool              `json:"vpnEnabled,omitempty"`
	NTPServers          []string          `json:"ntpServers,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

// StateSnapshot is the comparable content of a state document
type StateSnapshot struct {
	Apps   AppMap       `json:"apps"`
	Config DeviceConfig `json:"config"`
}

// EmptySnapshot returns a snapshot with no apps and default config
func EmptySnapshot() StateSnapshot {
	return StateSnapshot{Apps: AppMap{}}
}

// TargetState is the desired state for a device
type TargetState struct {
	DeviceUUID      string       `json:"deviceUuid"`
	Apps            AppMap       `json:"apps"`
	Config          DeviceConfig `json:"config"`
	Version         int64        `json:"version"`
	NeedsDeployment bool         `json:"needsDeployment"`
	LastDeployedAt  *time.Time   `json:"lastDeployedAt,omitempty"`
	DeployedBy      string       `json:"deployedBy,omitempty"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Snapshot returns the comparable content of the target state
func (t *TargetState) Snapshot() StateSnapshot {
	return StateSnapshot{Apps: t.Apps, Config: t.Config}
}

// NewTargetState creates the initial empty target state for a device
func NewTargetState(deviceUUID string) *TargetState {
	return &TargetState{
		DeviceUUID: deviceUUID,
		Apps:       AppMap{},
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
}

// TargetStateRevision is an immutable snapshot taken at every deploy
type TargetStateRevision struct {
	DeviceUUID string       `json:"deviceUuid"`
	Apps       AppMap       `json:"apps"`
	Config     DeviceConfig `json:"config"`
	Version    int64        `json:"version"`
	DeployedAt time.Time    `json:"deployedAt"`
}

// CurrentState is the state a device last reported as actually running
type CurrentState struct {
	DeviceUUID string            `json:"deviceUuid"`
	Apps       AppMap            `json:"apps"`
	Config     DeviceConfig      `json:"config"`
	SystemInfo map[string]string `json:"systemInfo,omitempty"`
	Version    int64             `json:"version"`
	ReportedAt time.Time         `json:"reportedAt"`
}

// Snapshot returns the comparable content of the current state
func (c *CurrentState) Snapshot() StateSnapshot {
	return StateSnapshot{Apps: c.Apps, Config: c.Config}
}

// ValidateSnapshot rejects malformed apps/config payloads before they are
// persisted. Nothing is partially applied on failure.
func ValidateSnapshot(s StateSnapshot) error {
	for appID, app := range s.Apps {
		if appID <= 0 {
			return ValidationError{"app id must be a positive integer"}
		}
		if strings.TrimSpace(app.AppName) == "" {
			return ValidationError{"app name cannot be empty"}
		}
		seen := make(map[int64]bool, len(app.Services))
		for _, svc := range app.Services {
			if svc.ServiceID <= 0 {
				return ValidationError{"service id must be a positive integer"}
			}
			if seen[svc.ServiceID] {
				return ValidationError{"duplicate service id within app"}
			}
			seen[svc.ServiceID] = true
			if strings.TrimSpace(svc.ServiceName) == "" {
				return ValidationError{"service name cannot be empty"}
			}
			if strings.TrimSpace(svc.ImageReference) == "" {
				return ValidationError{"service image reference cannot be empty"}
			}
		}
	}
	if s.Config.PollIntervalSeconds < 0 {
		return ValidationError{"poll interval cannot be negative"}
	}
	return nil
}

// ValidationError signals a malformed payload, rejected synchronously
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}
