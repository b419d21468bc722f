package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IMPORT_BATCH_SIZE", "")
	t.Setenv("SYNC_COOLDOWN", "")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("SCHEDULER_POLL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.ImportBatchSize)
	assert.Equal(t, 10*time.Second, cfg.SyncCooldown)
	assert.Equal(t, "product-sync", cfg.KafkaSyncTopic)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.SchedulerPoll)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IMPORT_BATCH_SIZE", "45")
	t.Setenv("SYNC_COOLDOWN", "30")
	t.Setenv("PUSH_RATE_WINDOW", "2s")
	t.Setenv("IMPORT_SKIP_IMAGES", "true")
	t.Setenv("SYNC_STALE_BATCH", "not-a-number")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.ImportBatchSize)
	assert.Equal(t, 30*time.Second, cfg.SyncCooldown)
	assert.Equal(t, 2*time.Second, cfg.PushRateWindow)
	assert.True(t, cfg.ImportSkipImages)
	assert.Equal(t, 20, cfg.SyncStaleBatchSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}
