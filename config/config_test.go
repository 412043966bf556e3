package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LocationPolicy(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 15*time.Second, cfg.Location.FixTimeout)
	assert.Equal(t, 10*time.Second, cfg.Location.MaxCachedAge)
	assert.Equal(t, time.Second, cfg.Location.WatchInterval)
	assert.Equal(t, 10.0, cfg.Location.WatchDistanceMeter)
	assert.Equal(t, 300*time.Millisecond, cfg.Location.PermissionDelay)
	assert.Equal(t, 120*time.Second, cfg.OTP.ResendCooldown)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "farmai.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
client:
  base_url: http://file.example/api/v1
database:
  driver: mysql
`), 0o600))

	t.Setenv("FARMAI_CONFIG", path)
	t.Setenv("FARMAI_API_URL", "http://env.example/api/v1")
	t.Setenv("FARMAI_API_TIMEOUT", "3s")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "http://env.example/api/v1", cfg.Client.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 0, cfg.Redis.DB)
	// untouched sections keep their defaults
	assert.Equal(t, 6, cfg.OTP.Length)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("FARMAI_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
