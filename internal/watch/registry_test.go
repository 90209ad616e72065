package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]Event
	notify  chan struct{}
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{notify: make(chan struct{}, 10)}
}

func (b *batchRecorder) sync(ctx context.Context, root string, events []Event) error {
	b.mu.Lock()
	b.batches = append(b.batches, events)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *batchRecorder) await(t *testing.T) []Event {
	t.Helper()
	select {
	case <-b.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync callback")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches[len(b.batches)-1]
}

func TestRegistry_DispatchesBatchesToSync(t *testing.T) {
	root := t.TempDir()
	rec := newBatchRecorder()
	reg := NewRegistry(Options{DebounceWindow: 50 * time.Millisecond}, rec.sync, slog.Default())
	t.Cleanup(reg.StopAll)

	require.NoError(t, reg.Start(context.Background(), root))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))

	batch := rec.await(t)
	require.NotEmpty(t, batch)
	assert.Equal(t, "a.go", batch[0].Path)
}

func TestRegistry_ListSorted(t *testing.T) {
	rootB := t.TempDir()
	rootA := t.TempDir()
	reg := NewRegistry(Options{DebounceWindow: 50 * time.Millisecond}, newBatchRecorder().sync, slog.Default())
	t.Cleanup(reg.StopAll)

	require.NoError(t, reg.Start(context.Background(), rootB))
	require.NoError(t, reg.Start(context.Background(), rootA))

	roots := reg.List()
	require.Len(t, roots, 2)
	assert.Less(t, roots[0], roots[1])
}

func TestRegistry_DuplicateStartRejected(t *testing.T) {
	root := t.TempDir()
	reg := NewRegistry(Options{DebounceWindow: 50 * time.Millisecond}, newBatchRecorder().sync, slog.Default())
	t.Cleanup(reg.StopAll)

	require.NoError(t, reg.Start(context.Background(), root))
	err := reg.Start(context.Background(), root)
	assert.Error(t, err)
	assert.Len(t, reg.List(), 1)
}

func TestRegistry_StopRemovesWatcher(t *testing.T) {
	root := t.TempDir()
	reg := NewRegistry(Options{DebounceWindow: 50 * time.Millisecond}, newBatchRecorder().sync, slog.Default())

	require.NoError(t, reg.Start(context.Background(), root))
	require.NoError(t, reg.Stop(root))
	assert.Empty(t, reg.List())

	// Stopping an unknown root is an error, not a panic.
	assert.Error(t, reg.Stop(root))

	// The root can be watched again after a stop.
	require.NoError(t, reg.Start(context.Background(), root))
	reg.StopAll()
	assert.Empty(t, reg.List())
}
