package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Detection.FeatureCount)
	assert.Equal(t, 0.3, cfg.Detection.Severity.Low)
	assert.Equal(t, 3, cfg.Alerting.Dispatch.MaxAttempts)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFrom_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9090
detection:
  feature_count: 16
  severity:
    low: 0.2
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Detection.FeatureCount)
	assert.Equal(t, 0.2, cfg.Detection.Severity.Low)
	// Untouched keys keep their defaults.
	assert.Equal(t, 0.5, cfg.Detection.Severity.Medium)
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("ADE_SERVER_PORT", "7070")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadFrom_RejectsNonMonotonicSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
detection:
  severity:
    low: 0.8
    medium: 0.5
    high: 0.7
    critical: 0.9
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err := LoadFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "severity")
}

func TestLoadFrom_RejectsInvalidEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: sandbox\n"), 0o644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}
