package embedding

import (
	"context"
	"errors"

	"github.com/S-Corkum/recall/pkg/resilience"
)

// ResilientClient adds circuit breaking and bounded retries around a
// provider. Input validation errors never trip the breaker or retry.
type ResilientClient struct {
	inner    Client
	breakers *resilience.BreakerManager
	retry    resilience.RetryConfig
}

// NewResilientClient wraps a provider with the shared breaker manager.
func NewResilientClient(inner Client, breakers *resilience.BreakerManager, retry resilience.RetryConfig) *ResilientClient {
	return &ResilientClient{inner: inner, breakers: breakers, retry: retry}
}

// Model returns the wrapped provider's model name.
func (c *ResilientClient) Model() string { return c.inner.Model() }

// Embed runs the provider call through breaker and retry policies.
func (c *ResilientClient) Embed(ctx context.Context, text string) (*Result, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	var result *Result
	err := resilience.Retry(ctx, c.retry, func() error {
		value, err := c.breakers.Execute(ctx, resilience.EmbeddingBreaker, func() (interface{}, error) {
			return c.inner.Embed(ctx, text)
		})
		if err != nil {
			if errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrDimensionMismatch) {
				return resilience.Permanent(err)
			}
			return err
		}
		result = value.(*Result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EmbedBatch embeds texts one at a time through the policies.
func (c *ResilientClient) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	results := make([]*Result, 0, len(texts))
	for _, text := range texts {
		result, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}
