package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polystore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `
log_level: debug
backends:
  - type: postgres
    connection:
      host: localhost
      port: 5432
      database: polystore
      username: app
      password: secret
    options:
      pool_size: 10
      timeout: 15s
  - type: mongodb
    connection:
      host: localhost
      port: 27017
      database: polystore
routes:
  - collection: users
    backend: postgres
    sync_enabled: true
  - collection: events
    backend: mongodb
sync:
  batch_size: 50
selector:
  probe_interval: 10s
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "postgres", cfg.Backends[0].Type)
	assert.Equal(t, 10, cfg.Backends[0].Options.PoolSize)
	assert.Equal(t, 15*time.Second, cfg.Backends[0].Options.Timeout)

	require.Len(t, cfg.Routes, 2)
	assert.True(t, cfg.Routes[0].SyncEnabled)
	assert.False(t, cfg.Routes[1].SyncEnabled)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "latest-wins", cfg.Sync.ConflictResolution)
	assert.Equal(t, 5*time.Minute, cfg.Sync.SyncInterval)
	assert.Equal(t, 50, cfg.Sync.BatchSize, "explicit value overrides the default")
	assert.Equal(t, 10, cfg.Sync.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Selector.ProbeInterval)
	assert.Equal(t, 30*time.Minute, cfg.Selector.RouteCacheTTL)
	assert.Equal(t, 3, cfg.Selector.MaxConsecutiveFailures)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownBackendType(t *testing.T) {
	_, err := Load(writeConfig(t, `
backends:
  - type: cassandra
    connection:
      host: localhost
      database: x
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestValidateRejectsDuplicateRoute(t *testing.T) {
	_, err := Load(writeConfig(t, `
backends:
  - type: postgres
    connection:
      host: localhost
      database: x
routes:
  - collection: users
    backend: postgres
  - collection: users
    backend: postgres
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate route")
}

func TestValidateRejectsUndeclaredRouteTarget(t *testing.T) {
	_, err := Load(writeConfig(t, `
backends:
  - type: postgres
    connection:
      host: localhost
      database: x
routes:
  - collection: events
    backend: mongodb
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared backend")
}

func TestValidateRejectsUnknownResolutionStrategy(t *testing.T) {
	_, err := Load(writeConfig(t, `
backends:
  - type: postgres
    connection:
      host: localhost
      database: x
sync:
  conflict_resolution: coin-flip
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict resolution")
}

func TestValidateRequiresBackends(t *testing.T) {
	_, err := Load(writeConfig(t, `log_level: info`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one backend")
}
