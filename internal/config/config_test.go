package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvBasedSetting(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("DATABASE_PATH_PROD", "/var/lib/cafepos/prod.db")
	t.Setenv("DATABASE_PATH_DEV", "/tmp/dev.db")

	assert.Equal(t, "/var/lib/cafepos/prod.db", GetEnvBasedSetting("DATABASE_PATH"))

	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "/tmp/dev.db", GetEnvBasedSetting("DATABASE_PATH"))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("DATABASE_PATH_DEV", dir+"/pos.db")
	t.Setenv("REQUIRE_AUTH", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("RECONCILE_INTERVAL_SECONDS", "not-a-number")
	t.Setenv("LOW_STOCK_THRESHOLD", "")
	t.Setenv("TIME_ZONE", "")
	t.Setenv("ALLOWED_ORIGIN_DEV", "")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir+"/pos.db", s.DatabasePath)
	assert.Equal(t, 60*time.Second, s.ReconcileInterval)
	assert.Equal(t, 5, s.LowStockThreshold)
	assert.Equal(t, "Asia/Jakarta", s.TimeZone)
	assert.Equal(t, "*", s.AllowedOrigin)
	assert.False(t, s.RequireAuth)
}

func TestLoadRequireAuthNeedsSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("DATABASE_PATH_DEV", t.TempDir()+"/pos.db")
	t.Setenv("REQUIRE_AUTH", "true")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	s, err := Load()
	require.NoError(t, err)
	assert.True(t, s.RequireAuth)
}
