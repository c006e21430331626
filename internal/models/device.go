package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Device represents a provisioned edge device
type Device struct {
	UUID         string    `json:"uuid"`
	FleetID      string    `json:"fleetId"`
	DeviceName   string    `json:"deviceName"`
	DeviceType   string    `json:"deviceType,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	IsActive     bool      `json:"isActive"`
}

// ProvisionDeviceRequest is the request body for provisioning a device
type ProvisionDeviceRequest struct {
	UUID       string `json:"uuid,omitempty"` // device-generated id, assigned if empty
	FleetID    string `json:"fleetId"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType,omitempty"`
}

// NewDevice creates a device from a provisioning request
func NewDevice(req ProvisionDeviceRequest) (*Device, error) {
	fleetID := strings.TrimSpace(req.FleetID)
	deviceName := strings.TrimSpace(req.DeviceName)
	id := strings.TrimSpace(req.UUID)

	if fleetID == "" {
		return nil, ErrEmptyFleetID
	}
	if deviceName == "" {
		return nil, ErrEmptyDeviceName
	}
	if id == "" {
		id = uuid.New().String()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidDeviceUUID
	}

	now := time.Now().UTC()
	return &Device{
		UUID:         id,
		FleetID:      fleetID,
		DeviceName:   deviceName,
		DeviceType:   strings.TrimSpace(req.DeviceType),
		RegisteredAt: now,
		LastSeenAt:   now,
		IsActive:     true,
	}, nil
}

// Device errors
var (
	ErrEmptyFleetID      = DeviceError{"fleet id cannot be empty"}
	ErrEmptyDeviceName   = DeviceError{"device name cannot be empty"}
	ErrInvalidDeviceUUID = DeviceError{"device uuid must be a valid UUID"}
	ErrDeviceNotFound    = DeviceError{"device not found"}
)

type DeviceError struct {
	Message string
}

func (e DeviceError) Error() string {
	return e.Message
}
