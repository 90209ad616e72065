// Package profiling provides CPU, heap, and trace profiling for the CLI,
// driven by the --profile-* flags.
package profiling

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Profiler starts and stops the runtime profilers. Use one per process run.
type Profiler struct{}

// NewProfiler creates a new Profiler instance.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// startToFile creates path and runs start against it; the returned cleanup
// calls stop and closes the file.
func startToFile(path, kind string, start func(io.Writer) error, stop func()) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s file: %w", kind, err)
	}
	if err := start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start %s: %w", kind, err)
	}
	return func() {
		stop()
		_ = f.Close()
	}, nil
}

// StartCPU begins CPU profiling into path. The cleanup must be called to
// stop profiling and flush the file.
func (p *Profiler) StartCPU(path string) (cleanup func(), err error) {
	return startToFile(path, "CPU profile", pprof.StartCPUProfile, pprof.StopCPUProfile)
}

// StartTrace begins execution tracing into path. The cleanup must be called
// to stop tracing and flush the file.
func (p *Profiler) StartTrace(path string) (cleanup func(), err error) {
	return startToFile(path, "trace", trace.Start, trace.Stop)
}

// WriteHeap snapshots live heap allocations into path. A GC runs first so
// the snapshot reflects live objects rather than garbage.
func (p *Profiler) WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
