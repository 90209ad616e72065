// Package watch provides filesystem watching for continuous indexing: a
// recursive fsnotify watcher per project root, a debouncer that coalesces
// event bursts, and a registry that owns the running watchers.
package watch

import (
	"time"
)

// Op is a filesystem operation type.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
	OpRename
)

var opNames = [...]string{"CREATE", "MODIFY", "DELETE", "RENAME"}

func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "UNKNOWN"
	}
	return opNames[op]
}

// Event is one filesystem event, with Path relative to the watched root.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
	Time  time.Time
}
