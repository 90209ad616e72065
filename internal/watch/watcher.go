package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quarrylabs/quarry/internal/ignore"
)

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch flushes. Default 1s.
	DebounceWindow time.Duration

	// EventBufferSize bounds the batch channel. Default 100.
	EventBufferSize int

	// IgnorePatterns are extra gitignore-syntax patterns beyond .gitignore.
	IgnorePatterns []string
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 100
	}
	return o
}

// Watcher watches one project root recursively via fsnotify, filters ignored
// paths, and emits debounced event batches.
type Watcher struct {
	root      string
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	opts      Options
	logger    *slog.Logger

	mu      sync.RWMutex
	rules   *ignore.Ruleset
	batches chan []Event
	errs    chan error
	stopCh  chan struct{}
	stopped bool
}

// NewWatcher creates a watcher for root. Call Run to start it.
func NewWatcher(root string, opts Options, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:      abs,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow, logger),
		opts:      opts,
		logger:    logger.With(slog.String("component", "watch"), slog.String("root", abs)),
		batches:   make(chan []Event, opts.EventBufferSize),
		errs:      make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	w.rules = w.buildRules()
	return w, nil
}

// Run watches until ctx is cancelled or Stop is called. The batch channel
// closes when Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		_ = w.Stop()
		return fmt.Errorf("failed to watch directory tree: %w", err)
	}

	go w.forwardBatches()

	w.logger.Info("watching for changes",
		slog.Duration("debounce", w.opts.DebounceWindow))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	if w.ignored(rel, isDir) {
		return
	}

	// An edited ignore file changes what the index should contain, so the
	// ruleset reloads and the event flows through as a modification; the
	// next sync reconciles newly ignored or unignored files.
	if filepath.Base(ev.Name) == ".gitignore" {
		w.mu.Lock()
		w.rules = w.buildRules()
		w.mu.Unlock()
	}

	var op Op
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			_ = w.fsw.Add(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and unknown ops do not affect content.
		return
	}

	w.debouncer.Add(Event{Path: rel, Op: op, IsDir: isDir, Time: time.Now()})
}

func (w *Watcher) forwardBatches() {
	for batch := range w.debouncer.Output() {
		if len(batch) == 0 {
			continue
		}
		w.emitBatch(batch)
	}
}

// emitBatch holds the read lock so the send cannot race Stop closing the
// channel.
func (w *Watcher) emitBatch(batch []Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.batches <- batch:
	default:
		w.logger.Warn("batch channel full, dropping batch", slog.Int("batch_size", len(batch)))
	}
}

// addRecursive registers root and every non-ignored subdirectory.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			return w.fsw.Add(path)
		}
		if w.ignored(rel, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) ignored(rel string, isDir bool) bool {
	if rel == "." || rel == "" {
		return true
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rules.Ignored(rel, isDir)
}

// buildRules assembles the ignore ruleset: built-ins, caller patterns, then
// the root and nested .gitignore files.
func (w *Watcher) buildRules() *ignore.Ruleset {
	rules := ignore.NewRuleset()
	rules.AddLine(".git/")
	rules.AddLine(".quarry/")
	for _, p := range w.opts.IgnorePatterns {
		rules.AddLine(p)
	}

	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != ".gitignore" {
			return nil
		}
		base, _ := filepath.Rel(w.root, filepath.Dir(path))
		if base == "." {
			base = ""
		}
		if err := rules.LoadFile(path, base); err != nil {
			w.logger.Warn("failed to load ignore file",
				slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
	return rules
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

// Batches returns the channel of debounced event batches.
func (w *Watcher) Batches() <-chan []Event {
	return w.batches
}

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Root returns the watched root path.
func (w *Watcher) Root() string {
	return w.root
}

// Stop stops the watcher and releases resources. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	err := w.fsw.Close()
	w.debouncer.Stop()
	close(w.batches)
	close(w.errs)
	return err
}
