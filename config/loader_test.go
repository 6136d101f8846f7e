package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "sql", cfg.Snapshots.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Pause.BoundaryTimeout)
	assert.InDelta(t, 0.85, cfg.Capacity.Threshold, 0.001)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9090"
database:
  driver: postgres
  dsn: "host=db user=continuum dbname=continuum"
pause:
  boundary_timeout: 2m
compiler:
  max_decisions: 5
log:
  level: debug
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Pause.BoundaryTimeout)
	assert.Equal(t, 5, cfg.Compiler.MaxDecisions)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Sections the file does not mention keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 50, cfg.Extractor.MaxEntries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9090"
`)

	t.Setenv("CONTINUUM_SERVER_ADDR", ":7070")
	t.Setenv("CONTINUUM_PAUSE_BOUNDARY_TIMEOUT", "90s")
	t.Setenv("CONTINUUM_CAPACITY_THRESHOLD", "0.7")
	t.Setenv("CONTINUUM_AUTH_ENABLED", "true")
	t.Setenv("CONTINUUM_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("CONTINUUM_LOG_OUTPUT_PATHS", "stdout, /var/log/continuum.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 90*time.Second, cfg.Pause.BoundaryTimeout)
	assert.InDelta(t, 0.7, cfg.Capacity.Threshold, 0.001)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"stdout", "/var/log/continuum.log"}, cfg.Log.OutputPaths)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("CONTINUUM_PAUSE_BOUNDARY_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONTINUUM_PAUSE_BOUNDARY_TIMEOUT")
}

func TestLoad_CustomEnvPrefix(t *testing.T) {
	t.Setenv("CE_SERVER_ADDR", ":6060")

	cfg, err := NewLoader().WithEnvPrefix("CE").Load()
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Server.Addr)
}

func TestLoad_ValidatorRuns(t *testing.T) {
	t.Setenv("CONTINUUM_AUTH_ENABLED", "true")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Capacity.Threshold = 1.5
	cfg.Snapshots.Backend = "csv"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity threshold")
	assert.Contains(t, err.Error(), "unknown snapshot backend")
}
