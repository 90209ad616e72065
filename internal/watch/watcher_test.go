package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string, opts Options) *Watcher {
	t.Helper()
	if opts.DebounceWindow == 0 {
		opts.DebounceWindow = 50 * time.Millisecond
	}

	w, err := NewWatcher(root, opts, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})

	// Give the recursive watch a moment to register before mutating files.
	time.Sleep(100 * time.Millisecond)
	return w
}

func awaitBatch(t *testing.T, w *Watcher) []Event {
	t.Helper()
	select {
	case batch := <-w.Batches():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event batch")
		return nil
	}
}

func TestWatcher_EmitsCreateEvents(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, Options{})

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	batch := awaitBatch(t, w)
	got := ops(batch)
	assert.Contains(t, got, "main.go")
	assert.Equal(t, OpCreate, got["main.go"])
}

func TestWatcher_RapidWriteCoalesces(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	w := startWatcher(t, root, Options{})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))
	}

	batch := awaitBatch(t, w)
	count := 0
	for _, ev := range batch {
		if ev.Path == "a.go" {
			count++
		}
	}
	assert.Equal(t, 1, count, "burst of writes coalesces into one event")
}

func TestWatcher_IgnoredPathsFiltered(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644))
	w := startWatcher(t, root, Options{})

	require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.go"), []byte("package kept\n"), 0o644))

	batch := awaitBatch(t, w)
	got := ops(batch)
	assert.Contains(t, got, "kept.go")
	assert.NotContains(t, got, "debug.log")
}

func TestWatcher_DataDirNeverWatched(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".quarry"), 0o755))
	w := startWatcher(t, root, Options{})

	require.NoError(t, os.WriteFile(filepath.Join(root, ".quarry", "index.bin"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.go"), []byte("package real\n"), 0o644))

	batch := awaitBatch(t, w)
	for _, ev := range batch {
		assert.NotContains(t, ev.Path, ".quarry")
	}
}

func TestWatcher_NewDirectoriesPickedUp(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, Options{})

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	awaitBatch(t, w) // the directory creation itself

	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.go"), []byte("package pkg\n"), 0o644))

	batch := awaitBatch(t, w)
	got := ops(batch)
	assert.Contains(t, got, filepath.Join("pkg", "inner.go"))
}

func TestWatcher_StopClosesBatches(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, Options{DebounceWindow: 50 * time.Millisecond}, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop()) // idempotent

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	_, open := <-w.Batches()
	assert.False(t, open)
}
