package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return stderrors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	boom := stderrors.New("always fails")
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(2), func() error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, boom))
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetryConfig(3), func() error {
		return stderrors.New("should not matter")
	})

	assert.True(t, stderrors.Is(err, context.Canceled))
}

func TestRetryWithResultReturnsValue(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetryConfig(3), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, stderrors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRetryWithResultZeroValueOnFailure(t *testing.T) {
	got, err := RetryWithResult(context.Background(), fastRetryConfig(1), func() (string, error) {
		return "partial", stderrors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, "", got)
}

func TestJitteredStaysInRange(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := jittered(base, true)
		assert.GreaterOrEqual(t, d, base/2)
		assert.Less(t, d, base)
	}
	assert.Equal(t, base, jittered(base, false))
}
