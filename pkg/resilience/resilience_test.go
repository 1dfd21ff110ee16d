package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/pkg/observability"
)

func TestBreakerManager(t *testing.T) {
	t.Run("PassesThroughSuccess", func(t *testing.T) {
		m := NewBreakerManager(nil, observability.NewNoopLogger())
		result, err := m.Execute(context.Background(), "test", func() (interface{}, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, result)
	})

	t.Run("OpensAfterRepeatedFailures", func(t *testing.T) {
		m := NewBreakerManager(map[string]CircuitBreakerConfig{
			"flaky": {FailureRatio: 0.5, Interval: time.Minute, Timeout: time.Minute},
		}, observability.NewNoopLogger())

		boom := errors.New("boom")
		for i := 0; i < 6; i++ {
			_, _ = m.Execute(context.Background(), "flaky", func() (interface{}, error) {
				return nil, boom
			})
		}
		assert.Equal(t, gobreaker.StateOpen, m.State("flaky"))

		_, err := m.Execute(context.Background(), "flaky", func() (interface{}, error) {
			return 1, nil
		})
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	})

	t.Run("HonorsContextCancellation", func(t *testing.T) {
		m := NewBreakerManager(nil, observability.NewNoopLogger())
		ctx, cancel := context.WithCancel(context.Background())

		started := make(chan struct{})
		go func() {
			<-started
			cancel()
		}()

		_, err := m.Execute(ctx, "slow", func() (interface{}, error) {
			close(started)
			time.Sleep(200 * time.Millisecond)
			return nil, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetry(t *testing.T) {
	t.Run("RetriesTransientFailures", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond}, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("StopsOnPermanentError", func(t *testing.T) {
		attempts := 0
		sentinel := errors.New("bad request")
		err := Retry(context.Background(), DefaultRetryConfig(), func() error {
			attempts++
			return Permanent(sentinel)
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond}, func() error {
			attempts++
			return errors.New("always fails")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, attempts)
	})
}
