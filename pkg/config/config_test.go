package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.Realtime.ConflictWindow)
	assert.Equal(t, 50.0, cfg.Realtime.ConflictDistance)
	assert.Equal(t, 5*time.Minute, cfg.Realtime.LockTTL)
	assert.Equal(t, 1000, cfg.Realtime.EditHistoryLimit)
}

func TestLoadFileAppliesYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
server:
  port: 9090
realtime:
  conflict_window: 3s
  lock_backend: database
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("REALTIME_SERVER_PORT", "9191")
	t.Setenv("REALTIME_CONFLICT_DISTANCE", "12.5")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Realtime.ConflictWindow)
	assert.Equal(t, 12.5, cfg.Realtime.ConflictDistance)
	assert.Equal(t, LockBackendDatabase, cfg.Realtime.LockBackend)
	assert.Equal(t, 1*time.Second, cfg.Realtime.SSEPollInterval)
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Server.Port = 0 },
		"driver":        func(c *Config) { c.Database.Driver = "mysql" },
		"level":         func(c *Config) { c.Logging.Level = "verbose" },
		"backend":       func(c *Config) { c.Realtime.LockBackend = "etcd" },
		"redis addr":    func(c *Config) { c.Realtime.LockBackend = LockBackendRedis; c.Redis.Addr = "" },
		"lock ttl":      func(c *Config) { c.Realtime.LockTTL = 0 },
		"history limit": func(c *Config) { c.Realtime.EditHistoryLimit = 0 },
		"inbound rate":  func(c *Config) { c.Realtime.InboundRate = 0 },
		"auth mode":     func(c *Config) { c.Auth.Mode = "oauth" },
		"jwt secret":    func(c *Config) { c.Auth.Mode = AuthModeJWT; c.Auth.JWTSecret = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}
