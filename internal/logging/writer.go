package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RotatingWriter is an io.Writer over a log file with size-based rotation:
// quarry.log becomes quarry.log.1, .1 becomes .2, and files past MaxFiles
// are pruned. Each write is synced so `tail -f` sees entries immediately.
type RotatingWriter struct {
	path     string
	maxBytes int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	written int64
}

// NewRotatingWriter opens (or creates) the log file at path, creating parent
// directories as needed.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
	}
	if err := w.reopen(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends p, rotating first when it would push the file over the size
// limit. A failed rotation is reported to stderr and writing continues on
// the oversized file rather than dropping the entry.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err == nil {
		_ = w.file.Sync()
	}
	return n, err
}

// Sync flushes buffered data to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func (w *RotatingWriter) reopen() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// rotate shifts every numbered file up by one, prunes files at or past
// MaxFiles, moves the live file to .1, and reopens a fresh one.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		w.file = nil
	}

	var keep []int
	for num := range w.rotatedFiles() {
		if num >= w.maxFiles {
			_ = os.Remove(w.numberedPath(num))
		} else {
			keep = append(keep, num)
		}
	}
	// Shift highest first so nothing gets overwritten.
	sort.Sort(sort.Reverse(sort.IntSlice(keep)))
	for _, num := range keep {
		_ = os.Rename(w.numberedPath(num), w.numberedPath(num+1))
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.numberedPath(1)); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	w.written = 0
	return w.reopen()
}

// rotatedFiles finds the numbered rotations currently on disk.
func (w *RotatingWriter) rotatedFiles() map[int]struct{} {
	found := make(map[int]struct{})
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return found
	}
	for _, m := range matches {
		num, err := strconv.Atoi(strings.TrimPrefix(m, w.path+"."))
		if err == nil && num > 0 {
			found[num] = struct{}{}
		}
	}
	return found
}

func (w *RotatingWriter) numberedPath(num int) string {
	return fmt.Sprintf("%s.%d", w.path, num)
}
