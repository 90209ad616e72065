package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir is ~/.quarry/logs, falling back to the temp directory when
// no home directory is resolvable.
func DefaultLogDir() string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, ".quarry", "logs")
}

// DefaultLogPath returns the default log file location.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "quarry.log")
}

// EnsureLogDir creates the default log directory if needed.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}

// FindLogFile resolves the log file to read: the explicit path when given,
// otherwise the default location. Missing files are an error so callers can
// tell the user where logging would go.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found. Run with --debug first.\nExpected at: %s", path)
	}
	return path, nil
}
