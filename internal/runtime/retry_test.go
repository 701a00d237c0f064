package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsWithoutRetryOnNilError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesOnlyTransportTimeout(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), nil, func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-timeout errors must not be retried")
}

func TestRetry_RetriesTransportTimeoutUpToFiveAttempts(t *testing.T) {
	calls := 0
	retries := 0
	err := Retry(context.Background(), func() { retries++ }, func() error {
		calls++
		return &TransportTimeoutError{Err: errors.New("timeout")}
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 4, retries)
}

func TestRetry_SucceedsAfterTransientTimeout(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), nil, func() error {
		calls++
		if calls < 3 {
			return &TransportTimeoutError{Err: errors.New("timeout")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
