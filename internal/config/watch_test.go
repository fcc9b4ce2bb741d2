package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`permissions: {default_mode: default}`), 0644))

	var latest atomic.Pointer[Config]
	stop, err := Watch(path, func(cfg *Config) {
		latest.Store(cfg)
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(`permissions: {default_mode: acceptEdits}`), 0644))

	require.Eventually(t, func() bool {
		cfg := latest.Load()
		return cfg != nil && cfg.Permissions.DefaultMode == "acceptEdits"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchIgnoresInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`bus: {capacity: 8}`), 0644))

	var calls atomic.Int32
	stop, err := Watch(path, func(*Config) { calls.Add(1) })
	require.NoError(t, err)
	defer stop()

	// A broken write must not invoke the callback.
	require.NoError(t, os.WriteFile(path, []byte(`bus: [broken`), 0644))
	time.Sleep(300 * time.Millisecond)
	require.EqualValues(t, 0, calls.Load())
}
