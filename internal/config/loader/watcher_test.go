package loader

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"marketcache/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: DEBUG\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	snap := w.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "debug", snap.LogLevel)
}

func TestWatcherRejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: loud\n"), 0o644))
	_, err := NewWatcher(path)
	assert.Error(t, err)
}

func TestApplyLogLevel(t *testing.T) {
	defer logger.SetLevel("info")
	ApplyLogLevel(RuntimeSettings{LogLevel: "error"})
	assert.Equal(t, "error", logger.Level())
	ApplyLogLevel(RuntimeSettings{})
	assert.Equal(t, "error", logger.Level())
}

func TestNotifyRecoversPanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: info\n"), 0o644))
	w, err := NewWatcher(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	var got []string
	w.Subscribe(func(RuntimeSettings) { panic("boom") })
	w.Subscribe(func(s RuntimeSettings) { got = append(got, s.LogLevel) })
	assert.NotPanics(t, w.notify)
	assert.Equal(t, []string{"info"}, got)
}

func TestWatcherReloadsAndStops(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: info\n"), 0o644))
	w, err := NewWatcher(path)
	require.NoError(t, err)

	var calls atomic.Int32
	w.Subscribe(func(RuntimeSettings) { calls.Add(1) })

	// 同目录其他文件的变更不触发重载
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: error\n"), 0o644))
	require.Eventually(t, func() bool { return w.Snapshot().LogLevel == "error" }, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	select {
	case <-w.done:
	default:
		t.Fatal("watch loop still running after Close")
	}
	seen := calls.Load()
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: debug\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, seen, calls.Load())
	assert.Equal(t, "error", w.Snapshot().LogLevel)
}
