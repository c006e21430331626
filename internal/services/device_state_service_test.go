package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/server/internal/models"
)

func newStateService(e *testEnv) *DeviceStateService {
	return NewDeviceStateService(e.targets, e.currents, e.devices, NewStateDiffer(), NewFingerprintService(), nil, nil)
}

func TestDeviceStateService_FetchTargetState(t *testing.T) {
	ctx := context.Background()

	t.Run("serves empty document for a device without target state", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		result, err := svc.FetchTargetState(ctx, device.UUID, "")
		require.NoError(t, err)

		assert.False(t, result.NotModified)
		require.NotNil(t, result.Document)
		assert.Equal(t, int64(1), result.Document.Version)
		assert.Empty(t, result.Document.Apps)
		assert.NotEmpty(t, result.ETag)
	})

	t.Run("repeat fetch with matching token is not modified", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		first, err := svc.FetchTargetState(ctx, device.UUID, "")
		require.NoError(t, err)

		second, err := svc.FetchTargetState(ctx, device.UUID, first.ETag)
		require.NoError(t, err)

		assert.True(t, second.NotModified)
		assert.Equal(t, first.ETag, second.ETag)
	})

	t.Run("draft is invisible until deployed", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		before, err := svc.FetchTargetState(ctx, device.UUID, "")
		require.NoError(t, err)

		_, err = env.targets.SetDraft(ctx, device.UUID, snapshotWithImage("img:2.0"))
		require.NoError(t, err)

		// Undeployed draft: not modified even without any token.
		gated, err := svc.FetchTargetState(ctx, device.UUID, "")
		require.NoError(t, err)
		assert.True(t, gated.NotModified)
		assert.Nil(t, gated.Document)

		_, err = env.targets.Deploy(ctx, device.UUID, "operator@test")
		require.NoError(t, err)

		after, err := svc.FetchTargetState(ctx, device.UUID, before.ETag)
		require.NoError(t, err)
		assert.False(t, after.NotModified)
		require.NotNil(t, after.Document)
		assert.Equal(t, int64(2), after.Document.Version)
		assert.Contains(t, after.Document.Apps, int64(101))
		assert.NotEqual(t, before.ETag, after.ETag)
	})

	t.Run("canceled draft serves the previously deployed content", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		_, err := env.targets.SetDraft(ctx, device.UUID, snapshotWithImage("img:1.0"))
		require.NoError(t, err)
		_, err = env.targets.Deploy(ctx, device.UUID, "operator@test")
		require.NoError(t, err)

		deployed, err := svc.FetchTargetState(ctx, device.UUID, "")
		require.NoError(t, err)

		_, err = env.targets.SetDraft(ctx, device.UUID, snapshotWithImage("img:9.9"))
		require.NoError(t, err)
		_, err = env.targets.CancelPendingDeploy(ctx, device.UUID)
		require.NoError(t, err)

		restored, err := svc.FetchTargetState(ctx, device.UUID, "")
		require.NoError(t, err)
		assert.False(t, restored.NotModified)
		assert.Equal(t, deployed.ETag, restored.ETag)
		assert.Equal(t, deployed.Document.Version, restored.Document.Version)
	})

	t.Run("updates device last seen", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		_, err := svc.FetchTargetState(ctx, device.UUID, "")
		require.NoError(t, err)

		reloaded, err := env.devices.GetByUUID(ctx, device.UUID)
		require.NoError(t, err)
		require.NotNil(t, reloaded)
		assert.False(t, reloaded.LastSeenAt.Before(device.LastSeenAt))
	})
}

func TestDeviceStateService_ReportCurrentState(t *testing.T) {
	ctx := context.Background()

	t.Run("first report is accepted and changed", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		snap := snapshotWithImage("img:1.0")
		response := svc.ReportCurrentState(ctx, models.StateReportBatch{
			device.UUID: {Apps: snap.Apps, Config: snap.Config, Version: 1},
		})

		outcome := response.Outcomes[device.UUID]
		assert.True(t, outcome.Accepted)
		assert.True(t, outcome.Changed)
		assert.Empty(t, outcome.Error)

		stored, err := env.currents.Get(ctx, device.UUID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("identical repeat report is not a change", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		snap := snapshotWithImage("img:1.0")
		report := models.StateReport{Apps: snap.Apps, Config: snap.Config, Version: 1}

		svc.ReportCurrentState(ctx, models.StateReportBatch{device.UUID: report})
		response := svc.ReportCurrentState(ctx, models.StateReportBatch{device.UUID: report})

		outcome := response.Outcomes[device.UUID]
		assert.True(t, outcome.Accepted)
		assert.False(t, outcome.Changed)
	})

	t.Run("malformed entries do not block the rest of the batch", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		good := snapshotWithImage("img:1.0")
		bad := models.StateSnapshot{Apps: models.AppMap{-5: {AppName: "broken"}}}

		response := svc.ReportCurrentState(ctx, models.StateReportBatch{
			device.UUID:    {Apps: good.Apps, Config: good.Config, Version: 1},
			"not-a-uuid":   {Apps: good.Apps, Version: 1},
			"7f1d1e1a-0000-4000-8000-000000000001": {Apps: bad.Apps, Version: 1},
		})

		assert.True(t, response.Outcomes[device.UUID].Accepted)
		assert.Equal(t, "invalid device uuid", response.Outcomes["not-a-uuid"].Error)
		assert.NotEmpty(t, response.Outcomes["7f1d1e1a-0000-4000-8000-000000000001"].Error)
	})

	t.Run("report with nil apps stores an empty app map", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newStateService(env)
		device := env.seedDevice(t, "fleet-a", "edge-01")

		response := svc.ReportCurrentState(ctx, models.StateReportBatch{
			device.UUID: {Version: 1},
		})
		require.True(t, response.Outcomes[device.UUID].Accepted)

		stored, err := env.currents.Get(ctx, device.UUID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.NotNil(t, stored.Apps)
		assert.Empty(t, stored.Apps)
	})
}
