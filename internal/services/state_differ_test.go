package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/server/internal/models"
)

func TestStateDiffer_Equal(t *testing.T) {
	differ := NewStateDiffer()

	t.Run("identical snapshots are equal", func(t *testing.T) {
		equal, err := differ.Equal(snapshotWithImage("img:1.0"), snapshotWithImage("img:1.0"))
		require.NoError(t, err)
		assert.True(t, equal)
	})

	t.Run("nil and empty app maps are equal", func(t *testing.T) {
		equal, err := differ.Equal(models.StateSnapshot{}, models.EmptySnapshot())
		require.NoError(t, err)
		assert.True(t, equal)
	})

	t.Run("independently built maps compare by content", func(t *testing.T) {
		// Insertion order differs; semantic content does not.
		a := models.StateSnapshot{Apps: models.AppMap{}}
		a.Apps[2] = models.App{AppName: "beta"}
		a.Apps[1] = models.App{AppName: "alpha"}

		b := models.StateSnapshot{Apps: models.AppMap{
			1: {AppName: "alpha"},
			2: {AppName: "beta"},
		}}

		equal, err := differ.Equal(a, b)
		require.NoError(t, err)
		assert.True(t, equal)
	})

	t.Run("image change is a difference", func(t *testing.T) {
		equal, err := differ.Equal(snapshotWithImage("img:1.0"), snapshotWithImage("img:2.0"))
		require.NoError(t, err)
		assert.False(t, equal)
	})

	t.Run("config change is a difference", func(t *testing.T) {
		a := snapshotWithImage("img:1.0")
		b := snapshotWithImage("img:1.0")
		b.Config.LogLevel = "debug"

		equal, err := differ.Equal(a, b)
		require.NoError(t, err)
		assert.False(t, equal)
	})

	t.Run("absent optional service fields equal empty ones", func(t *testing.T) {
		a := snapshotWithImage("img:1.0")
		b := snapshotWithImage("img:1.0")
		app := b.Apps[101]
		app.Services[0].Environment = nil
		app.Services[0].PortMappings = nil
		b.Apps[101] = app

		equal, err := differ.Equal(a, b)
		require.NoError(t, err)
		assert.True(t, equal)
	})
}

func TestStateDiffer_Diff(t *testing.T) {
	differ := NewStateDiffer()

	t.Run("no change", func(t *testing.T) {
		diff, err := differ.Diff(snapshotWithImage("img:1.0"), snapshotWithImage("img:1.0"))
		require.NoError(t, err)
		assert.False(t, diff.Changed)
		assert.Empty(t, diff.AddedApps)
		assert.Empty(t, diff.RemovedApps)
	})

	t.Run("added and removed apps", func(t *testing.T) {
		before := models.StateSnapshot{Apps: models.AppMap{
			1: {AppName: "alpha"},
			2: {AppName: "beta"},
		}}
		after := models.StateSnapshot{Apps: models.AppMap{
			2: {AppName: "beta"},
			3: {AppName: "gamma"},
			4: {AppName: "delta"},
		}}

		diff, err := differ.Diff(before, after)
		require.NoError(t, err)
		assert.True(t, diff.Changed)
		assert.Equal(t, []int64{3, 4}, diff.AddedApps)
		assert.Equal(t, []int64{1}, diff.RemovedApps)
	})

	t.Run("in-place app change has no added or removed ids", func(t *testing.T) {
		diff, err := differ.Diff(snapshotWithImage("img:1.0"), snapshotWithImage("img:2.0"))
		require.NoError(t, err)
		assert.True(t, diff.Changed)
		assert.Empty(t, diff.AddedApps)
		assert.Empty(t, diff.RemovedApps)
	})
}
