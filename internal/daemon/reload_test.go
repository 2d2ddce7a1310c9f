package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreWatcher_NotifiesOnStoreWrites(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "limits.db")
	require.NoError(t, os.WriteFile(storePath, []byte("v1"), 0600))

	var changes atomic.Int32
	w, err := NewStoreWatcher(storePath, func() { changes.Add(1) }, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Unrelated files in the data directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daemon.json"), []byte("{}"), 0600))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, changes.Load())

	require.NoError(t, os.WriteFile(storePath, []byte("v2"), 0600))
	require.Eventually(t, func() bool { return changes.Load() > 0 }, 2*time.Second, 10*time.Millisecond)

	before := changes.Load()
	require.NoError(t, os.WriteFile(storePath+"-journal", []byte("j"), 0600))
	require.Eventually(t, func() bool { return changes.Load() > before }, 2*time.Second, 10*time.Millisecond)
}

func TestNewStoreWatcher_MissingDirectory(t *testing.T) {
	_, err := NewStoreWatcher(filepath.Join(t.TempDir(), "absent", "limits.db"), func() {}, zap.NewNop())
	assert.Error(t, err)
}
