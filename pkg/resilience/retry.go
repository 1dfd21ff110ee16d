package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the exponential retry schedule.
type RetryConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// DefaultRetryConfig retries twice with a short exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs fn with bounded exponential backoff, stopping early on
// context cancellation or a Permanent error.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		bo.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		bo.MaxInterval = cfg.MaxInterval
	}
	var policy backoff.BackOff = backoff.WithContext(bo, ctx)
	policy = backoff.WithMaxRetries(policy, cfg.MaxRetries)
	return backoff.Retry(fn, policy)
}
