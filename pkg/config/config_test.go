package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test-nonexistent")
	require.NoError(t, Load())

	em := GlobalConfig.Emergency
	assert.Equal(t, 500, em.SosMessageMaxLen)
	assert.Equal(t, 60, em.ShareDefaultMinutes)
	assert.Equal(t, 480, em.ShareMaxMinutes)
	assert.Equal(t, 3*time.Second, em.StoreTimeout)
	assert.Equal(t, []time.Duration{24 * time.Hour, 168 * time.Hour}, em.StatsWindows)
	assert.Equal(t, "local", em.LockDriver)
	assert.True(t, em.WebsocketPushEnabled)
	assert.Equal(t, "/api", GlobalConfig.APIPrefix)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test-nonexistent")
	t.Setenv("SHARE_MAX_MINUTES", "120")
	t.Setenv("STORE_TIMEOUT_MS", "250")
	t.Setenv("SOS_STATS_WINDOWS", "1h,bogus,720h")
	t.Setenv("WS_PUSH_ENABLED", "false")
	t.Setenv("CACHE_TYPE", "redis")
	require.NoError(t, Load())

	em := GlobalConfig.Emergency
	assert.Equal(t, 120, em.ShareMaxMinutes)
	assert.Equal(t, 250*time.Millisecond, em.StoreTimeout)
	assert.Equal(t, []time.Duration{time.Hour, 720 * time.Hour}, em.StatsWindows)
	assert.False(t, em.WebsocketPushEnabled)
	assert.Equal(t, "redis", GlobalConfig.Cache.Type)
}
