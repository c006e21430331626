package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/server/internal/models"
	"github.com/fleetsync/server/internal/repository"
)

// deployFailingTargetRepo fails rollback deploys for selected devices so
// partial-success behavior can be exercised against the real repositories.
type deployFailingTargetRepo struct {
	repository.TargetStateRepo
	failUUIDs map[string]bool
}

func (r *deployFailingTargetRepo) Deploy(ctx context.Context, deviceUUID, actor string) (*models.TargetState, error) {
	if strings.HasPrefix(actor, "rollback:") && r.failUUIDs[deviceUUID] {
		return nil, errors.New("simulated deploy failure")
	}
	return r.TargetStateRepo.Deploy(ctx, deviceUUID, actor)
}

func TestRollbackManager_RollbackAll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
	devices := env.seedFleet(t, "fleet-a", 4)

	// Every device runs a deployed baseline before the rollout touches it.
	baseline := snapshotWithImage("img:1.0")
	for _, device := range devices {
		_, err := env.targets.SetDraft(ctx, device.UUID, baseline)
		require.NoError(t, err)
		_, err = env.targets.Deploy(ctx, device.UUID, "operator@test")
		require.NoError(t, err)
	}

	rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
		Name:         "bad build",
		Template:     snapshotWithImage("img:2.0"),
		FleetID:      "fleet-a",
		BatchPercent: 100,
	})
	require.NoError(t, err)
	rollout, err = orch.StartRollout(ctx, rollout.ID)
	require.NoError(t, err)
	require.Equal(t, 4, rollout.UpdatedDevices)

	failing := devices[0].UUID
	locks := NewRolloutLocks()
	manager := NewRollbackManager(
		env.rollouts, env.rolloutDevs, env.events,
		&deployFailingTargetRepo{TargetStateRepo: env.targets, failUUIDs: map[string]bool{failing: true}},
		locks, nil, nil,
	)

	t.Run("reports partial success", func(t *testing.T) {
		report, err := manager.RollbackAll(ctx, rollout.ID, "bad build")
		require.NoError(t, err)

		assert.Equal(t, 3, report.DevicesRolledBack)
		assert.Equal(t, 1, report.DevicesFailed)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, failing, report.Failures[0].DeviceUUID)
	})

	t.Run("restores pre-update content for rolled back devices", func(t *testing.T) {
		differ := NewStateDiffer()
		for _, device := range devices[1:] {
			row, err := env.rolloutDevs.Get(ctx, rollout.ID, device.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.RolloutDeviceRolledBack, row.Status)

			target, err := env.targets.Get(ctx, device.UUID)
			require.NoError(t, err)
			require.NotNil(t, target)

			equal, err := differ.Equal(baseline, target.Snapshot())
			require.NoError(t, err)
			assert.True(t, equal)
			// baseline deploy = 2, rollout deploy = 3, rollback deploy = 4
			assert.Equal(t, int64(4), target.Version)
			assert.False(t, target.NeedsDeployment)
		}
	})

	t.Run("failed device keeps its prior status for retry", func(t *testing.T) {
		row, err := env.rolloutDevs.Get(ctx, rollout.ID, failing)
		require.NoError(t, err)
		assert.Equal(t, models.RolloutDeviceUpdating, row.Status)

		target, err := env.targets.Get(ctx, failing)
		require.NoError(t, err)
		// The rollback draft was written but never deployed; devices
		// keep seeing the rollout content.
		assert.True(t, target.NeedsDeployment)
		assert.Equal(t, int64(3), target.Version)
	})

	t.Run("counters reflect rolled back devices", func(t *testing.T) {
		reloaded, err := env.rollouts.GetByID(ctx, rollout.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, reloaded.RolledBackDevices)
	})

	t.Run("retry picks up only the remaining device", func(t *testing.T) {
		retryManager := NewRollbackManager(
			env.rollouts, env.rolloutDevs, env.events, env.targets,
			NewRolloutLocks(), nil, nil,
		)
		report, err := retryManager.RollbackAll(ctx, rollout.ID, "retry")
		require.NoError(t, err)

		assert.Equal(t, 1, report.DevicesRolledBack)
		assert.Equal(t, 0, report.DevicesFailed)

		reloaded, err := env.rollouts.GetByID(ctx, rollout.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, reloaded.RolledBackDevices)
	})
}

func TestRollbackManager_RollbackDevice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
	devices := env.seedFleet(t, "fleet-a", 2)

	rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
		Name:         "single rollback",
		Template:     snapshotWithImage("img:2.0"),
		FleetID:      "fleet-a",
		BatchPercent: 50,
	})
	require.NoError(t, err)
	_, err = orch.StartRollout(ctx, rollout.ID)
	require.NoError(t, err)

	manager := NewRollbackManager(
		env.rollouts, env.rolloutDevs, env.events, env.targets,
		NewRolloutLocks(), nil, nil,
	)

	batch1, err := env.rolloutDevs.GetByBatch(ctx, rollout.ID, 1)
	require.NoError(t, err)
	require.Len(t, batch1, 1)
	updated := batch1[0].DeviceUUID

	var notUpdated string
	for _, device := range devices {
		if device.UUID != updated {
			notUpdated = device.UUID
		}
	}

	t.Run("restores one device", func(t *testing.T) {
		row, err := manager.RollbackDevice(ctx, rollout.ID, updated, "flaky sensor readings")
		require.NoError(t, err)
		assert.Equal(t, models.RolloutDeviceRolledBack, row.Status)

		target, err := env.targets.Get(ctx, updated)
		require.NoError(t, err)
		// Fresh device: empty v1 baseline, rollout deploy = 2, rollback = 3.
		assert.Equal(t, int64(3), target.Version)
		assert.Empty(t, target.Apps)
	})

	t.Run("repeat rollback is a no-op", func(t *testing.T) {
		before, err := env.targets.Get(ctx, updated)
		require.NoError(t, err)

		row, err := manager.RollbackDevice(ctx, rollout.ID, updated, "again")
		require.NoError(t, err)
		assert.Equal(t, models.RolloutDeviceRolledBack, row.Status)

		after, err := env.targets.Get(ctx, updated)
		require.NoError(t, err)
		assert.Equal(t, before.Version, after.Version)
	})

	t.Run("device never updated has no snapshot to restore", func(t *testing.T) {
		_, err := manager.RollbackDevice(ctx, rollout.ID, notUpdated, "")
		assert.ErrorIs(t, err, models.ErrNoPriorSnapshot)
	})

	t.Run("unknown rollout", func(t *testing.T) {
		_, err := manager.RollbackDevice(ctx, "b2d5c9f0-0000-4000-8000-000000000042", updated, "")
		assert.ErrorIs(t, err, models.ErrRolloutNotFound)
	})

	t.Run("device outside the rollout", func(t *testing.T) {
		_, err := manager.RollbackDevice(ctx, rollout.ID, "b2d5c9f0-0000-4000-8000-000000000043", "")
		assert.ErrorIs(t, err, models.ErrRolloutDeviceNotFound)
	})
}
