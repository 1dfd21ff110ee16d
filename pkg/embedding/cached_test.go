package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/resilience"
)

// stubClient returns a fixed vector and counts invocations.
type stubClient struct {
	calls int
	fail  error
}

func (s *stubClient) Embed(ctx context.Context, text string) (*Result, error) {
	s.calls++
	if s.fail != nil {
		return nil, s.fail
	}
	vec := make([]float32, Dimensions)
	vec[0] = 0.5
	return &Result{Vector: vec, Dimensions: Dimensions, Model: "stub", TokenCount: 3}, nil
}

func (s *stubClient) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	results := make([]*Result, 0, len(texts))
	for _, text := range texts {
		r, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *stubClient) Model() string { return "stub" }

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCachedClient(t *testing.T) {
	t.Run("SecondCallServedFromLRU", func(t *testing.T) {
		stub := &stubClient{}
		cached, err := NewCachedClient(stub, nil, 16, time.Minute, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
		require.NoError(t, err)

		_, err = cached.Embed(context.Background(), "what is kubernetes")
		require.NoError(t, err)
		_, err = cached.Embed(context.Background(), "what is kubernetes")
		require.NoError(t, err)
		assert.Equal(t, 1, stub.calls)
	})

	t.Run("RedisSurvivesProcessRestart", func(t *testing.T) {
		rdb := newTestRedis(t)
		stub := &stubClient{}
		first, err := NewCachedClient(stub, rdb, 16, time.Minute, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
		require.NoError(t, err)
		_, err = first.Embed(context.Background(), "persistent query")
		require.NoError(t, err)

		// Fresh LRU, same redis: hit comes from the shared layer
		second, err := NewCachedClient(&stubClient{fail: errors.New("should not be called")}, rdb, 16, time.Minute, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
		require.NoError(t, err)
		result, err := second.Embed(context.Background(), "persistent query")
		require.NoError(t, err)
		assert.Len(t, result.Vector, Dimensions)
	})

	t.Run("DistinctTextsMissIndependently", func(t *testing.T) {
		stub := &stubClient{}
		cached, err := NewCachedClient(stub, nil, 16, time.Minute, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
		require.NoError(t, err)

		_, _ = cached.Embed(context.Background(), "alpha")
		_, _ = cached.Embed(context.Background(), "beta")
		assert.Equal(t, 2, stub.calls)
	})

	t.Run("ProviderErrorPropagates", func(t *testing.T) {
		boom := errors.New("provider down")
		cached, err := NewCachedClient(&stubClient{fail: boom}, nil, 16, time.Minute, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
		require.NoError(t, err)
		_, err = cached.Embed(context.Background(), "query")
		assert.ErrorIs(t, err, boom)
	})
}

func TestResilientClient(t *testing.T) {
	t.Run("RetriesTransientFailure", func(t *testing.T) {
		flaky := &flakyClient{failuresBeforeSuccess: 2}
		breakers := resilience.NewBreakerManager(nil, observability.NewNoopLogger())
		client := NewResilientClient(flaky, breakers, resilience.RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond})

		result, err := client.Embed(context.Background(), "query")
		require.NoError(t, err)
		assert.Len(t, result.Vector, Dimensions)
		assert.Equal(t, 3, flaky.calls)
	})

	t.Run("EmptyInputIsNotRetried", func(t *testing.T) {
		flaky := &flakyClient{failuresBeforeSuccess: 100}
		breakers := resilience.NewBreakerManager(nil, observability.NewNoopLogger())
		client := NewResilientClient(flaky, breakers, resilience.DefaultRetryConfig())

		_, err := client.Embed(context.Background(), "")
		assert.ErrorIs(t, err, ErrEmptyInput)
		assert.Equal(t, 0, flaky.calls)
	})
}

// flakyClient fails a fixed number of times before succeeding.
type flakyClient struct {
	calls                 int
	failuresBeforeSuccess int
}

func (f *flakyClient) Embed(ctx context.Context, text string) (*Result, error) {
	f.calls++
	if f.calls <= f.failuresBeforeSuccess {
		return nil, errors.New("transient failure")
	}
	vec := make([]float32, Dimensions)
	return &Result{Vector: vec, Dimensions: Dimensions, Model: "flaky"}, nil
}

func (f *flakyClient) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	return nil, errors.New("not used")
}

func (f *flakyClient) Model() string { return "flaky" }
