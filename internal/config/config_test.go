package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3001", cfg.ListenAddr)
	assert.Equal(t, "./data", cfg.DataRoot)
	assert.Equal(t, "./uploads", cfg.UploadsRoot)
	assert.Equal(t, 5*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.RetentionHorizon)
	assert.Equal(t, 60*time.Second, cfg.RoomIdleGrace)
	assert.EqualValues(t, 3*1024*1024, cfg.MaxImageBytes)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("SNAPSHOT_INTERVAL", "2s")
	t.Setenv("MAX_IMAGE_BYTES", "1024")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.SnapshotInterval)
	assert.EqualValues(t, 1024, cfg.MaxImageBytes)
}

func TestLoadCollectsMalformedValueErrors(t *testing.T) {
	t.Setenv("SNAPSHOT_INTERVAL", "not-a-duration")
	t.Setenv("MAX_IMAGE_BYTES", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SNAPSHOT_INTERVAL")
	assert.Contains(t, err.Error(), "MAX_IMAGE_BYTES")
}
