package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed lets requests through.
	StateClosed State = iota
	// StateOpen blocks requests until the reset timeout passes.
	StateOpen
	// StateHalfOpen lets a probe request test whether the backend recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast once a backend keeps erroring. The retriever
// holds one per optional backend so a flapping sparse service or reranker
// degrades queries instead of adding its timeout to every one of them.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets how many consecutive failures open the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the circuit stays open before probing.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker creates a named breaker: 5 failures to open, 30s until
// the first recovery probe.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, surfacing open→half-open transitions.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Allow reports whether a request may proceed right now.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != StateOpen
}

// currentState folds the reset timeout into the stored state. Callers hold
// at least a read lock.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// begin decides whether the call may run and whether it is a half-open
// probe. finish applies the outcome.
func (cb *CircuitBreaker) begin() (run, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.currentState() {
	case StateOpen:
		return false, false
	case StateHalfOpen:
		return true, true
	default:
		return true, false
	}
}

func (cb *CircuitBreaker) finish(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
		return
	}

	cb.lastFailure = time.Now()
	if probe {
		// Failed probe reopens immediately.
		cb.state = StateOpen
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// Execute runs fn unless the circuit is open, in which case ErrCircuitOpen
// is returned without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	run, probe := cb.begin()
	if !run {
		return ErrCircuitOpen
	}
	err := fn()
	cb.finish(probe, err)
	return err
}

// CircuitExecuteWithResult runs fn through the breaker, switching to
// fallback when the circuit is open or a half-open probe fails.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	run, probe := cb.begin()
	if !run {
		return fallback()
	}
	result, err := fn()
	cb.finish(probe, err)
	if err != nil && probe {
		return fallback()
	}
	return result, err
}
