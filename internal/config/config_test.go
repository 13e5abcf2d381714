package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
watch:
  dirs:
    - `+dir+`
  suffix: .sav
ingest:
  tier2_idle_delay: 30s
  stability:
    poll_interval: 100ms
store:
  path: /tmp/test.db
events:
  military_relative: 0.3
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, cfg.Watch.Dirs)
	assert.Equal(t, 30*time.Second, cfg.Ingest.Tier2IdleDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Ingest.Stability.PollInterval)
	assert.Equal(t, "/tmp/test.db", cfg.Store.Path)
	assert.InDelta(t, 0.3, cfg.Events.MilitaryRelative, 1e-9)

	// Untouched sections keep defaults.
	assert.Equal(t, ":8484", cfg.Server.Addr)
	assert.Equal(t, "statewatch.events", cfg.Publish.Subject)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
watch:
  dirs:
    - /should/be/overridden
`)
	t.Setenv("STATEWATCH_SAVE_DIRS", dir)
	t.Setenv("STATEWATCH_DB_PATH", "/tmp/env.db")
	t.Setenv("STATEWATCH_HTTP_ADDR", ":9999")
	t.Setenv("STATEWATCH_TIER2_IDLE_DELAY", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, cfg.Watch.Dirs)
	assert.Equal(t, "/tmp/env.db", cfg.Store.Path)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Ingest.Tier2IdleDelay)
}

func TestLoadNatsEnvEnablesPublishing(t *testing.T) {
	t.Setenv("STATEWATCH_SAVE_DIRS", t.TempDir())
	t.Setenv("STATEWATCH_NATS_URL", "nats://localhost:4222")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Publish.Enabled)
	assert.Equal(t, "nats://localhost:4222", cfg.Publish.URL)
}

func TestValidateRejectsMissingDirs(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.ErrorContains(t, err, "watch directory")
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Watch.Dirs = []string{t.TempDir()}
	cfg.Log.Level = "verbose"
	assert.ErrorContains(t, cfg.Validate(), "log level")
}

func TestValidatePublishNeedsURL(t *testing.T) {
	cfg := Default()
	cfg.Watch.Dirs = []string{t.TempDir()}
	cfg.Publish.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "publish.url")
}

func TestLoadExpandsEnvInYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SAVES_ROOT", dir)
	path := writeConfig(t, `
watch:
  dirs:
    - ${SAVES_ROOT}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, cfg.Watch.Dirs)
}

func TestNewLoggerLevels(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	logger := cfg.NewLogger(os.Stderr)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), -4))
}
