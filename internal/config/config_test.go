package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8750", cfg.Server.Listen)
	assert.Equal(t, "127.0.0.1:8751", cfg.Ingress.Listen)
	assert.Equal(t, 10000, cfg.Ingress.WriteTimeoutMs)
	assert.Equal(t, 256, cfg.Bus.Capacity)
	assert.Equal(t, 30, cfg.Run.WaitAttempts)
	assert.Equal(t, 500, cfg.Run.WaitIntervalMs)
	assert.Equal(t, "default", cfg.Permissions.DefaultMode)
	assert.Equal(t, "claude", cfg.Spawn.Bin)
	assert.Equal(t, 1000, cfg.Storage.HistoryMaxEntries)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: "0.0.0.0:9000"
bus:
  capacity: 16
permissions:
  default_mode: acceptEdits
  edit_allow_tools:
    - apply_patch
spawn:
  bin: my-agent
  args: ["--verbose"]
storage:
  state_dir: /tmp/bridged-test
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, 16, cfg.Bus.Capacity)
	assert.Equal(t, "acceptEdits", cfg.Permissions.DefaultMode)
	assert.Equal(t, []string{"apply_patch"}, cfg.Permissions.EditAllowTools)
	assert.Equal(t, "my-agent", cfg.Spawn.Bin)
	assert.Equal(t, []string{"--verbose"}, cfg.Spawn.Args)
	assert.Equal(t, "/tmp/bridged-test", cfg.Storage.StateDir)

	// Unset fields keep their defaults.
	assert.Equal(t, "127.0.0.1:8751", cfg.Ingress.Listen)
	assert.Equal(t, 30, cfg.Run.WaitAttempts)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`server: {listen: "127.0.0.1:9100"}`), 0644))

	t.Setenv("BRIDGED_SERVER_LISTEN", "127.0.0.1:9999")
	t.Setenv("BRIDGED_INGRESS_LISTEN", "127.0.0.1:9998")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
	assert.Equal(t, "127.0.0.1:9998", cfg.Ingress.Listen)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`server: [not a map`), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}
