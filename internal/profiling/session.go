package profiling

// Session bundles the profilers requested by CLI flags so a command can
// start them in one call and stop them on exit. Empty paths disable the
// corresponding profile.
type Session struct {
	profiler *Profiler
	heapPath string
	stops    []func()
}

// StartSession starts CPU profiling and tracing if their paths are set.
// The heap profile is a snapshot, written when the session stops.
func StartSession(cpuPath, heapPath, tracePath string) (*Session, error) {
	s := &Session{profiler: NewProfiler(), heapPath: heapPath}

	if cpuPath != "" {
		stop, err := s.profiler.StartCPU(cpuPath)
		if err != nil {
			s.abort()
			return nil, err
		}
		s.stops = append(s.stops, stop)
	}
	if tracePath != "" {
		stop, err := s.profiler.StartTrace(tracePath)
		if err != nil {
			s.abort()
			return nil, err
		}
		s.stops = append(s.stops, stop)
	}
	return s, nil
}

// abort stops whatever did start without writing the heap snapshot.
func (s *Session) abort() {
	s.heapPath = ""
	_ = s.Stop()
}

// Active reports whether any profile was requested.
func (s *Session) Active() bool {
	return len(s.stops) > 0 || s.heapPath != ""
}

// Stop flushes running profiles and writes the heap snapshot, if requested.
// It returns the first error encountered; profiles that did start are still
// stopped.
func (s *Session) Stop() error {
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil

	if s.heapPath != "" {
		path := s.heapPath
		s.heapPath = ""
		return s.profiler.WriteHeap(path)
	}
	return nil
}
