package indexer

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// lockFileName lives inside the data directory; holding it means this
// process owns the indexes under that directory.
const lockFileName = "quarry.lock"

// Lock is an advisory cross-process lock on a data directory. Metadata uses
// WAL-mode SQLite, but the HNSW and sparse index files are whole-file
// snapshots, so two writers would corrupt each other.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the data directory lock without blocking. A held lock
// means another quarry process is indexing the same directory.
func AcquireLock(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeFilePermission, "failed to create data directory", err)
	}

	fl := flock.New(filepath.Join(dataDir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal, "failed to acquire data directory lock", err)
	}
	if !ok {
		return nil, qerrors.New(qerrors.ErrCodeStoreUnavailable,
			"data directory is locked by another quarry process", nil).
			WithSuggestion("stop the other process, or remove a stale " + lockFileName + " if no process is running")
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call on a nil lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
