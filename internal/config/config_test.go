package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.AppEnv)
	require.True(t, cfg.IsDev())
	require.False(t, cfg.IsProd())
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 15*time.Second, cfg.HTTPTimeout())
	require.Equal(t, 30*time.Second, cfg.LockTTL())
	require.Equal(t, 90*time.Second, cfg.HeartbeatTTL())
}

func Test_Load_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9090")
	t.Setenv("HTTPX_TIMEOUT_SECONDS", "5")
	t.Setenv("REDIS_LOCK_TTL_SECONDS", "10")
	t.Setenv("DATA_RETENTION_DAYS", "30")

	cfg, err := Load()
	require.NoError(t, err)

	require.True(t, cfg.IsProd())
	require.False(t, cfg.IsDev())
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 5*time.Second, cfg.HTTPTimeout())
	require.Equal(t, 10*time.Second, cfg.LockTTL())
	require.Equal(t, 30, cfg.DataRetentionDays)
}

func Test_Load_InvalidDurationErrors(t *testing.T) {
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
}
