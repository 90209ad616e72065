package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("sparse", WithMaxFailures(3))
	boom := stderrors.New("backend down")

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	err := cb.Execute(func() error { return nil })
	assert.True(t, stderrors.Is(err, ErrCircuitOpen))
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("sparse", WithMaxFailures(3))

	_ = cb.Execute(func() error { return stderrors.New("fail") })
	_ = cb.Execute(func() error { return stderrors.New("fail") })
	require.Equal(t, 2, cb.Failures())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("reranker",
		WithMaxFailures(1),
		WithResetTimeout(10*time.Millisecond),
	)

	_ = cb.Execute(func() error { return stderrors.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	// A successful probe closes the circuit.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("reranker",
		WithMaxFailures(1),
		WithResetTimeout(10*time.Millisecond),
	)

	_ = cb.Execute(func() error { return stderrors.New("fail") })
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(func() error { return stderrors.New("still down") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitExecuteWithResultFallsBack(t *testing.T) {
	cb := NewCircuitBreaker("sparse", WithMaxFailures(1))

	_, _ = CircuitExecuteWithResult(cb,
		func() ([]string, error) { return nil, stderrors.New("fail") },
		func() ([]string, error) { return nil, nil },
	)
	require.Equal(t, StateOpen, cb.State())

	got, err := CircuitExecuteWithResult(cb,
		func() ([]string, error) { return []string{"primary"}, nil },
		func() ([]string, error) { return []string{"fallback"}, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback"}, got)
}
