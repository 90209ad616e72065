package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// SyncFunc is invoked with each debounced batch; implementations run a scoped
// sync of the affected root.
type SyncFunc func(ctx context.Context, root string, events []Event) error

// Registry owns the running watchers, at most one per root.
type Registry struct {
	opts   Options
	syncFn SyncFunc
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	watcher *Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRegistry creates a registry that dispatches batches to syncFn.
func NewRegistry(opts Options, syncFn SyncFunc, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		opts:    opts,
		syncFn:  syncFn,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// Start begins watching root. Starting an already-watched root is an error.
func (r *Registry) Start(ctx context.Context, root string) error {
	w, err := NewWatcher(root, r.opts, r.logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.entries[w.Root()]; exists {
		r.mu.Unlock()
		_ = w.Stop()
		return qerrors.New(qerrors.ErrCodeWatcherFailed, "already watching "+w.Root(), nil)
	}

	wctx, cancel := context.WithCancel(ctx)
	entry := &registryEntry{watcher: w, cancel: cancel, done: make(chan struct{})}
	r.entries[w.Root()] = entry
	r.mu.Unlock()

	go func() {
		defer close(entry.done)
		if err := w.Run(wctx); err != nil && wctx.Err() == nil {
			r.logger.Error("watcher stopped unexpectedly",
				slog.String("root", w.Root()), slog.String("error", err.Error()))
		}
	}()
	go r.dispatch(wctx, w)

	return nil
}

// dispatch feeds debounced batches into the sync function, one at a time.
// A batch arriving mid-sync waits in the channel; syncs never overlap for
// the same root.
func (r *Registry) dispatch(ctx context.Context, w *Watcher) {
	for batch := range w.Batches() {
		r.logger.Debug("change batch detected",
			slog.String("root", w.Root()), slog.Int("events", len(batch)))
		if err := r.syncFn(ctx, w.Root(), batch); err != nil {
			r.logger.Error("sync after change batch failed",
				slog.String("root", w.Root()), slog.String("error", err.Error()))
		}
	}
}

// Stop stops the watcher for root and waits for it to wind down.
func (r *Registry) Stop(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	r.mu.Lock()
	entry, ok := r.entries[abs]
	if ok {
		delete(r.entries, abs)
	}
	r.mu.Unlock()

	if !ok {
		return qerrors.New(qerrors.ErrCodeWatcherFailed, "not watching "+abs, nil)
	}

	entry.cancel()
	err = entry.watcher.Stop()
	<-entry.done
	return err
}

// StopAll stops every running watcher.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		_ = e.watcher.Stop()
		<-e.done
	}
}

// List returns the watched roots, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	roots := make([]string, 0, len(r.entries))
	for root := range r.entries {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}
