package services

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetsync/server/internal/models"
	"github.com/fleetsync/server/internal/repository"
)

// testEnv wires the real repositories against an in-memory database so
// service tests exercise the same SQL the server runs.
type testEnv struct {
	db          *sql.DB
	devices     *repository.DeviceRepository
	targets     *repository.TargetStateRepository
	currents    *repository.CurrentStateRepository
	rollouts    *repository.RolloutRepository
	rolloutDevs *repository.RolloutDeviceRepository
	events      *repository.RolloutEventRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &testEnv{
		db:          db,
		devices:     repository.NewDeviceRepository(db),
		targets:     repository.NewTargetStateRepository(db),
		currents:    repository.NewCurrentStateRepository(db),
		rollouts:    repository.NewRolloutRepository(db),
		rolloutDevs: repository.NewRolloutDeviceRepository(db),
		events:      repository.NewRolloutEventRepository(db),
	}
}

func (e *testEnv) seedDevice(t *testing.T, fleetID, name string) *models.Device {
	t.Helper()

	device, err := models.NewDevice(models.ProvisionDeviceRequest{
		FleetID:    fleetID,
		DeviceName: name,
	})
	require.NoError(t, err)
	require.NoError(t, e.devices.Add(context.Background(), device))
	return device
}

func (e *testEnv) seedFleet(t *testing.T, fleetID string, count int) []*models.Device {
	t.Helper()

	devices := make([]*models.Device, count)
	for i := range devices {
		devices[i] = e.seedDevice(t, fleetID, fmt.Sprintf("device-%02d", i))
	}
	return devices
}

// snapshotWithImage builds a minimal valid one-app snapshot; varying the
// image is enough to make two snapshots semantically different.
func snapshotWithImage(image string) models.StateSnapshot {
	return models.StateSnapshot{
		Apps: models.AppMap{
			101: {
				AppName: "telemetry",
				Services: []models.AppService{
					{ServiceID: 1, ServiceName: "collector", ImageReference: image},
				},
			},
		},
		Config: models.DeviceConfig{LogLevel: "info"},
	}
}
