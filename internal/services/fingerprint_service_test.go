package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/server/internal/models"
)

func TestFingerprintService_Fingerprint(t *testing.T) {
	svc := NewFingerprintService()

	t.Run("is deterministic", func(t *testing.T) {
		a, err := svc.Fingerprint(snapshotWithImage("img:1.0"), 3)
		require.NoError(t, err)
		b, err := svc.Fingerprint(snapshotWithImage("img:1.0"), 3)
		require.NoError(t, err)

		assert.Equal(t, a, b)
	})

	t.Run("embeds the version", func(t *testing.T) {
		token, err := svc.Fingerprint(snapshotWithImage("img:1.0"), 7)
		require.NoError(t, err)

		assert.True(t, strings.HasSuffix(token, "-7"))
	})

	t.Run("changes when the version changes", func(t *testing.T) {
		a, err := svc.Fingerprint(snapshotWithImage("img:1.0"), 1)
		require.NoError(t, err)
		b, err := svc.Fingerprint(snapshotWithImage("img:1.0"), 2)
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("changes when the content changes", func(t *testing.T) {
		a, err := svc.Fingerprint(snapshotWithImage("img:1.0"), 1)
		require.NoError(t, err)
		b, err := svc.Fingerprint(snapshotWithImage("img:2.0"), 1)
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("nil and empty app maps fingerprint identically", func(t *testing.T) {
		a, err := svc.Fingerprint(models.StateSnapshot{}, 1)
		require.NoError(t, err)
		b, err := svc.Fingerprint(models.EmptySnapshot(), 1)
		require.NoError(t, err)

		assert.Equal(t, a, b)
	})
}
