// Package logging sets up structured slog logging to a size-rotated file,
// so CLI output stays clean while diagnostics land in ~/.quarry/logs.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where and how much gets logged.
type Config struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string
	// FilePath is the log file location.
	FilePath string
	// MaxSizeMB triggers rotation once the file exceeds this size.
	MaxSizeMB int
	// MaxFiles bounds how many rotated files survive pruning.
	MaxFiles int
	// WriteToStderr mirrors log lines to stderr.
	WriteToStderr bool
}

// DefaultConfig logs info and above to the default log path, 10MB per file,
// five files kept.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup opens the rotating log file and builds a JSON slog logger over it.
// The returned cleanup flushes and closes the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}

	rw, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var sink io.Writer = rw
	if cfg.WriteToStderr {
		sink = io.MultiWriter(rw, os.Stderr)
	}

	logger := slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}))

	cleanup := func() {
		_ = rw.Sync()
		_ = rw.Close()
	}
	return logger, cleanup, nil
}

// parseLevel maps a level name to slog.Level; unknown names mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
