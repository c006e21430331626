package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolloutStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RolloutStatus
		to      RolloutStatus
		allowed bool
	}{
		{"pending to in progress", RolloutPending, RolloutInProgress, true},
		{"in progress to paused", RolloutInProgress, RolloutPaused, true},
		{"paused to in progress", RolloutPaused, RolloutInProgress, true},
		{"in progress to completed", RolloutInProgress, RolloutCompleted, true},
		{"in progress to failed", RolloutInProgress, RolloutFailed, true},
		{"pending to canceled", RolloutPending, RolloutCanceled, true},
		{"paused to canceled", RolloutPaused, RolloutCanceled, true},
		{"pending to paused", RolloutPending, RolloutPaused, false},
		{"pending to completed", RolloutPending, RolloutCompleted, false},
		{"completed to in progress", RolloutCompleted, RolloutInProgress, false},
		{"canceled to in progress", RolloutCanceled, RolloutInProgress, false},
		{"failed to canceled", RolloutFailed, RolloutCanceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestNewRollout(t *testing.T) {
	validTemplate := StateSnapshot{
		Apps: AppMap{
			1: {AppName: "telemetry", Services: []AppService{
				{ServiceID: 1, ServiceName: "collector", ImageReference: "registry.local/collector:2.1"},
			}},
		},
	}

	t.Run("creates pending rollout", func(t *testing.T) {
		r, err := NewRollout(CreateRolloutRequest{
			Name:                    "collector 2.1",
			Template:                validTemplate,
			BatchPercent:            25,
			FailureThresholdPercent: 20,
		})
		require.NoError(t, err)
		assert.Equal(t, RolloutPending, r.Status)
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, 25, r.BatchPercent)
		assert.False(t, r.CreatedAt.IsZero())
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := NewRollout(CreateRolloutRequest{
			Name:         "  ",
			Template:     validTemplate,
			BatchPercent: 25,
		})
		require.Error(t, err)
	})

	t.Run("rejects batch percent out of range", func(t *testing.T) {
		for _, pct := range []int{0, -1, 101} {
			_, err := NewRollout(CreateRolloutRequest{
				Name:         "bad batch",
				Template:     validTemplate,
				BatchPercent: pct,
			})
			assert.Error(t, err)
		}
	})

	t.Run("rejects malformed template", func(t *testing.T) {
		_, err := NewRollout(CreateRolloutRequest{
			Name: "bad template",
			Template: StateSnapshot{
				Apps: AppMap{1: {AppName: ""}},
			},
			BatchPercent: 25,
		})
		require.Error(t, err)
		assert.IsType(t, ValidationError{}, err)
	})
}

func TestValidateSnapshot(t *testing.T) {
	t.Run("accepts empty snapshot", func(t *testing.T) {
		assert.NoError(t, ValidateSnapshot(EmptySnapshot()))
	})

	t.Run("rejects duplicate service ids", func(t *testing.T) {
		err := ValidateSnapshot(StateSnapshot{
			Apps: AppMap{
				1: {AppName: "edge", Services: []AppService{
					{ServiceID: 7, ServiceName: "a", ImageReference: "img:a"},
					{ServiceID: 7, ServiceName: "b", ImageReference: "img:b"},
				}},
			},
		})
		require.Error(t, err)
	})

	t.Run("rejects missing image reference", func(t *testing.T) {
		err := ValidateSnapshot(StateSnapshot{
			Apps: AppMap{
				1: {AppName: "edge", Services: []AppService{
					{ServiceID: 7, ServiceName: "a"},
				}},
			},
		})
		require.Error(t, err)
	})
}

func TestRolloutDevice_PreUpdateSnapshot(t *testing.T) {
	t.Run("absent before deploy", func(t *testing.T) {
		d := RolloutDevice{Status: RolloutDevicePending}
		_, ok := d.PreUpdateSnapshot()
		assert.False(t, ok)
	})

	t.Run("present after deploy", func(t *testing.T) {
		d := RolloutDevice{
			Status:           RolloutDeviceUpdating,
			PreUpdateApps:    AppMap{1: {AppName: "edge"}},
			PreUpdateVersion: 3,
		}
		snap, ok := d.PreUpdateSnapshot()
		require.True(t, ok)
		assert.Equal(t, "edge", snap.Apps[1].AppName)
	})
}
