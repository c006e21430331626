package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/server/internal/models"
)

func newOrchestrator(e *testEnv, cfg OrchestratorConfig) *RolloutOrchestrator {
	locks := NewRolloutLocks()
	rollback := NewRollbackManager(e.rollouts, e.rolloutDevs, e.events, e.targets, locks, nil, nil)
	return NewRolloutOrchestrator(
		e.rollouts, e.rolloutDevs, e.events, e.devices, e.targets, e.currents,
		rollback, locks, nil, nil, cfg,
	)
}

func TestRolloutOrchestrator_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("computes the batch plan", func(t *testing.T) {
		env := newTestEnv(t)
		orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
		env.seedFleet(t, "fleet-a", 10)

		rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
			Name:                    "telemetry 2.0",
			Template:                snapshotWithImage("img:2.0"),
			FleetID:                 "fleet-a",
			BatchPercent:            50,
			FailureThresholdPercent: 20,
		})
		require.NoError(t, err)

		assert.Equal(t, models.RolloutPending, rollout.Status)
		assert.Equal(t, 10, rollout.TotalDevices)
		assert.Equal(t, 2, rollout.TotalBatches)
		assert.Equal(t, 0, rollout.CurrentBatch)

		rows, err := env.rolloutDevs.GetByRollout(ctx, rollout.ID)
		require.NoError(t, err)
		require.Len(t, rows, 10)

		perBatch := map[int]int{}
		for _, row := range rows {
			assert.Equal(t, models.RolloutDevicePending, row.Status)
			perBatch[row.BatchNumber]++
		}
		assert.Equal(t, map[int]int{1: 5, 2: 5}, perBatch)
	})

	t.Run("uneven fleet gets a short final batch", func(t *testing.T) {
		env := newTestEnv(t)
		orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
		env.seedFleet(t, "fleet-a", 7)

		rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
			Name:         "uneven",
			Template:     snapshotWithImage("img:2.0"),
			FleetID:      "fleet-a",
			BatchPercent: 50,
		})
		require.NoError(t, err)

		// ceil(7 * 50%) = 4, so batches of 4 and 3.
		assert.Equal(t, 2, rollout.TotalBatches)
		batch2, err := env.rolloutDevs.GetByBatch(ctx, rollout.ID, 2)
		require.NoError(t, err)
		assert.Len(t, batch2, 3)
	})

	t.Run("rejects an empty fleet", func(t *testing.T) {
		env := newTestEnv(t)
		orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})

		_, err := orch.Create(ctx, models.CreateRolloutRequest{
			Name:         "empty",
			Template:     snapshotWithImage("img:2.0"),
			FleetID:      "fleet-missing",
			BatchPercent: 50,
		})

		var validationErr models.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("rejects unknown explicit devices", func(t *testing.T) {
		env := newTestEnv(t)
		orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
		device := env.seedDevice(t, "fleet-a", "edge-01")

		_, err := orch.Create(ctx, models.CreateRolloutRequest{
			Name:         "explicit",
			Template:     snapshotWithImage("img:2.0"),
			DeviceUUIDs:  []string{device.UUID, "b2d5c9f0-0000-4000-8000-000000000099"},
			BatchPercent: 100,
		})

		var validationErr models.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})
}

func TestRolloutOrchestrator_Lifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
	env.seedFleet(t, "fleet-a", 10)

	rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
		Name:                    "telemetry 2.0",
		Template:                snapshotWithImage("img:2.0"),
		FleetID:                 "fleet-a",
		BatchPercent:            50,
		FailureThresholdPercent: 20,
	})
	require.NoError(t, err)

	batchUUIDs := func(batch int) []string {
		rows, err := env.rolloutDevs.GetByBatch(ctx, rollout.ID, batch)
		require.NoError(t, err)
		uuids := make([]string, len(rows))
		for i, row := range rows {
			uuids[i] = row.DeviceUUID
		}
		return uuids
	}
	batch1 := batchUUIDs(1)
	batch2 := batchUUIDs(2)

	t.Run("start deploys the first batch", func(t *testing.T) {
		rollout, err = orch.StartRollout(ctx, rollout.ID)
		require.NoError(t, err)

		assert.Equal(t, models.RolloutInProgress, rollout.Status)
		assert.Equal(t, 1, rollout.CurrentBatch)
		assert.Equal(t, 5, rollout.UpdatedDevices)
		require.NotNil(t, rollout.StartedAt)

		for _, deviceUUID := range batch1 {
			row, err := env.rolloutDevs.Get(ctx, rollout.ID, deviceUUID)
			require.NoError(t, err)
			assert.Equal(t, models.RolloutDeviceUpdating, row.Status)
			assert.Equal(t, int64(1), row.PreUpdateVersion)

			target, err := env.targets.Get(ctx, deviceUUID)
			require.NoError(t, err)
			require.NotNil(t, target)
			assert.Equal(t, int64(2), target.Version)
			assert.False(t, target.NeedsDeployment)
			assert.Contains(t, target.Apps, int64(101))
		}

		// Second batch is untouched until the first one settles.
		for _, deviceUUID := range batch2 {
			target, err := env.targets.Get(ctx, deviceUUID)
			require.NoError(t, err)
			assert.Nil(t, target)
		}
	})

	t.Run("start is only valid from PENDING", func(t *testing.T) {
		_, err := orch.StartRollout(ctx, rollout.ID)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("all-healthy batch advances automatically", func(t *testing.T) {
		for _, deviceUUID := range batch1 {
			rollout, err = orch.HandleHealthSignal(ctx, rollout.ID, deviceUUID, true, "")
			require.NoError(t, err)
		}

		assert.Equal(t, models.RolloutInProgress, rollout.Status)
		assert.Equal(t, 2, rollout.CurrentBatch)
		assert.Equal(t, 10, rollout.UpdatedDevices)
		assert.Equal(t, 5, rollout.HealthyDevices)

		for _, deviceUUID := range batch2 {
			row, err := env.rolloutDevs.Get(ctx, rollout.ID, deviceUUID)
			require.NoError(t, err)
			assert.Equal(t, models.RolloutDeviceUpdating, row.Status)
		}
	})

	t.Run("threshold breach pauses the rollout", func(t *testing.T) {
		// One failure of five is exactly 20%, not a breach.
		rollout, err = orch.HandleHealthSignal(ctx, rollout.ID, batch2[0], false, "crash loop")
		require.NoError(t, err)
		assert.Equal(t, models.RolloutInProgress, rollout.Status)

		// A second failure crosses the threshold.
		rollout, err = orch.HandleHealthSignal(ctx, rollout.ID, batch2[1], false, "crash loop")
		require.NoError(t, err)
		assert.Equal(t, models.RolloutPaused, rollout.Status)
		assert.Equal(t, "failure threshold breached", rollout.StatusReason)
		assert.Equal(t, 2, rollout.FailedDevices)

		events, err := env.events.GetByRollout(ctx, rollout.ID, 0)
		require.NoError(t, err)
		types := make([]string, len(events))
		for i, event := range events {
			types[i] = event.Type
		}
		assert.Contains(t, types, models.EventThresholdBreach)
	})

	t.Run("advance is rejected while paused", func(t *testing.T) {
		_, err := orch.AdvanceBatch(ctx, rollout.ID)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("resume continues from the current batch", func(t *testing.T) {
		rollout, err = orch.Resume(ctx, rollout.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RolloutInProgress, rollout.Status)
		assert.Equal(t, 2, rollout.CurrentBatch)
		assert.Nil(t, rollout.PausedAt)
		assert.Empty(t, rollout.StatusReason)
	})

	t.Run("recovered batch completes the rollout", func(t *testing.T) {
		for _, deviceUUID := range batch2 {
			rollout, err = orch.HandleHealthSignal(ctx, rollout.ID, deviceUUID, true, "recovered")
			require.NoError(t, err)
		}

		assert.Equal(t, models.RolloutCompleted, rollout.Status)
		assert.Equal(t, 10, rollout.HealthyDevices)
		assert.Equal(t, 0, rollout.FailedDevices)
		require.NotNil(t, rollout.FinishedAt)
	})

	t.Run("terminal rollout rejects further operations", func(t *testing.T) {
		_, err := orch.HandleHealthSignal(ctx, rollout.ID, batch2[0], false, "")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		_, err = orch.Pause(ctx, rollout.ID, "")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		_, err = orch.Cancel(ctx, rollout.ID, "")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})
}

func TestRolloutOrchestrator_ConvergenceInference(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
	env.seedFleet(t, "fleet-a", 4)

	rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
		Name:         "converge",
		Template:     snapshotWithImage("img:2.0"),
		FleetID:      "fleet-a",
		BatchPercent: 50,
	})
	require.NoError(t, err)
	rollout, err = orch.StartRollout(ctx, rollout.ID)
	require.NoError(t, err)

	// Devices report the deployed version without an explicit health signal.
	batch1, err := env.rolloutDevs.GetByBatch(ctx, rollout.ID, 1)
	require.NoError(t, err)
	for _, row := range batch1 {
		target, err := env.targets.Get(ctx, row.DeviceUUID)
		require.NoError(t, err)
		require.NoError(t, env.currents.Upsert(ctx, &models.CurrentState{
			DeviceUUID: row.DeviceUUID,
			Apps:       target.Apps,
			Config:     target.Config,
			Version:    target.Version,
			ReportedAt: time.Now().UTC(),
		}))
	}

	orch.runTick()

	rollout, err = env.rollouts.GetByID(ctx, rollout.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rollout.CurrentBatch)
	assert.Equal(t, 2, rollout.HealthyDevices)

	for _, row := range batch1 {
		reloaded, err := env.rolloutDevs.Get(ctx, rollout.ID, row.DeviceUUID)
		require.NoError(t, err)
		assert.Equal(t, models.RolloutDeviceHealthy, reloaded.Status)
	}
}

func TestRolloutOrchestrator_StuckBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("pause policy pauses a silent batch", func(t *testing.T) {
		env := newTestEnv(t)
		orch := newOrchestrator(env, OrchestratorConfig{
			TickInterval: time.Hour,
			GracePeriod:  time.Nanosecond,
			OnStuck:      StuckPause,
		})
		env.seedFleet(t, "fleet-a", 2)

		rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
			Name:         "stuck",
			Template:     snapshotWithImage("img:2.0"),
			FleetID:      "fleet-a",
			BatchPercent: 50,
		})
		require.NoError(t, err)
		_, err = orch.StartRollout(ctx, rollout.ID)
		require.NoError(t, err)

		time.Sleep(time.Millisecond)
		orch.runTick()

		reloaded, err := env.rollouts.GetByID(ctx, rollout.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RolloutPaused, reloaded.Status)
		assert.Equal(t, "batch stuck beyond grace period", reloaded.StatusReason)
	})

	t.Run("operator advance is allowed once the grace period elapsed", func(t *testing.T) {
		env := newTestEnv(t)
		orch := newOrchestrator(env, OrchestratorConfig{
			TickInterval: time.Hour,
			GracePeriod:  time.Nanosecond,
		})
		env.seedFleet(t, "fleet-a", 2)

		rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
			Name:         "manual advance",
			Template:     snapshotWithImage("img:2.0"),
			FleetID:      "fleet-a",
			BatchPercent: 50,
		})
		require.NoError(t, err)
		_, err = orch.StartRollout(ctx, rollout.ID)
		require.NoError(t, err)

		time.Sleep(time.Millisecond)
		rollout, err = orch.AdvanceBatch(ctx, rollout.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, rollout.CurrentBatch)
	})

	t.Run("operator advance is rejected while the batch is settling", func(t *testing.T) {
		env := newTestEnv(t)
		orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
		env.seedFleet(t, "fleet-a", 2)

		rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
			Name:         "no advance",
			Template:     snapshotWithImage("img:2.0"),
			FleetID:      "fleet-a",
			BatchPercent: 50,
		})
		require.NoError(t, err)
		_, err = orch.StartRollout(ctx, rollout.ID)
		require.NoError(t, err)

		_, err = orch.AdvanceBatch(ctx, rollout.ID)
		var conflictErr models.ConflictError
		require.ErrorAs(t, err, &conflictErr)
	})
}

func TestRolloutOrchestrator_Cancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
	env.seedFleet(t, "fleet-a", 4)

	rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
		Name:         "cancel me",
		Template:     snapshotWithImage("img:2.0"),
		FleetID:      "fleet-a",
		BatchPercent: 50,
	})
	require.NoError(t, err)
	_, err = orch.StartRollout(ctx, rollout.ID)
	require.NoError(t, err)

	rollout, err = orch.Cancel(ctx, rollout.ID, "bad build")
	require.NoError(t, err)
	assert.Equal(t, models.RolloutCanceled, rollout.Status)
	assert.Equal(t, "bad build", rollout.StatusReason)
	require.NotNil(t, rollout.FinishedAt)

	// Cancel does not touch device target state; rollback is explicit.
	batch1, err := env.rolloutDevs.GetByBatch(ctx, rollout.ID, 1)
	require.NoError(t, err)
	for _, row := range batch1 {
		target, err := env.targets.Get(ctx, row.DeviceUUID)
		require.NoError(t, err)
		require.NotNil(t, target)
		assert.Equal(t, int64(2), target.Version)
	}
}

func TestRolloutOrchestrator_SubThresholdAdvance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
	env.seedFleet(t, "fleet-a", 10)

	rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
		Name:                    "resilient build",
		Template:                snapshotWithImage("img:2.0"),
		FleetID:                 "fleet-a",
		BatchPercent:            50,
		FailureThresholdPercent: 40,
		Start:                   true,
	})
	require.NoError(t, err)

	batch1, err := env.rolloutDevs.GetByBatch(ctx, rollout.ID, 1)
	require.NoError(t, err)
	require.Len(t, batch1, 5)

	// One failure of five is 20%, well under the 40% threshold.
	rollout, err = orch.HandleHealthSignal(ctx, rollout.ID, batch1[0].DeviceUUID, false, "oom")
	require.NoError(t, err)
	for _, row := range batch1[1:] {
		rollout, err = orch.HandleHealthSignal(ctx, rollout.ID, row.DeviceUUID, true, "")
		require.NoError(t, err)
	}

	// The settled batch advances on its own; no operator call needed.
	assert.Equal(t, models.RolloutInProgress, rollout.Status)
	assert.Equal(t, 2, rollout.CurrentBatch)

	row, err := env.rolloutDevs.Get(ctx, rollout.ID, batch1[0].DeviceUUID)
	require.NoError(t, err)
	assert.Equal(t, models.RolloutDeviceFailed, row.Status)

	// Updated and failed stay disjoint: 4 healthy + 5 updating vs 1 failed.
	assert.Equal(t, 9, rollout.UpdatedDevices)
	assert.Equal(t, 1, rollout.FailedDevices)
	assert.LessOrEqual(t, rollout.UpdatedDevices+rollout.FailedDevices, rollout.TotalDevices)

	// A further tick leaves the fresh batch alone.
	orch.runTick()
	reloaded, err := env.rollouts.GetByID(ctx, rollout.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CurrentBatch)
	assert.Equal(t, models.RolloutInProgress, reloaded.Status)
}

func TestRolloutOrchestrator_CounterInvariant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orch := newOrchestrator(env, OrchestratorConfig{TickInterval: time.Hour})
	env.seedFleet(t, "fleet-a", 2)

	rollout, err := orch.Create(ctx, models.CreateRolloutRequest{
		Name:                    "single wave",
		Template:                snapshotWithImage("img:2.0"),
		FleetID:                 "fleet-a",
		BatchPercent:            100,
		FailureThresholdPercent: 60,
		Start:                   true,
	})
	require.NoError(t, err)

	batch, err := env.rolloutDevs.GetByBatch(ctx, rollout.ID, 1)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	rollout, err = orch.HandleHealthSignal(ctx, rollout.ID, batch[0].DeviceUUID, false, "panic")
	require.NoError(t, err)
	rollout, err = orch.HandleHealthSignal(ctx, rollout.ID, batch[1].DeviceUUID, true, "")
	require.NoError(t, err)

	// 50% failed is under the 60% threshold, so the single batch completes.
	assert.Equal(t, models.RolloutCompleted, rollout.Status)
	assert.Equal(t, 1, rollout.UpdatedDevices)
	assert.Equal(t, 1, rollout.HealthyDevices)
	assert.Equal(t, 1, rollout.FailedDevices)
	assert.LessOrEqual(t, rollout.UpdatedDevices+rollout.FailedDevices, rollout.TotalDevices)
}
