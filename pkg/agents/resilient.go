package agents

import (
	"context"
	"strings"
	"time"

	"github.com/S-Corkum/recall/pkg/resilience"
)

const defaultRequestTimeout = 90 * time.Second

// ResilientClient adds circuit breaking and a per-request timeout
// around a provider. Completions are never retried here; a failed
// agent surfaces immediately so the caller can fall back to another.
type ResilientClient struct {
	inner    Client
	breakers *resilience.BreakerManager
	timeout  time.Duration
}

// NewResilientClient wraps a provider with the shared breaker manager.
// Each agent gets its own breaker so one tripped provider does not
// block the fallback.
func NewResilientClient(inner Client, breakers *resilience.BreakerManager, timeout time.Duration) *ResilientClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &ResilientClient{inner: inner, breakers: breakers, timeout: timeout}
}

// Name returns the wrapped provider's agent name.
func (c *ResilientClient) Name() Agent { return c.inner.Name() }

// Model returns the wrapped provider's model name.
func (c *ResilientClient) Model() string { return c.inner.Model() }

// Complete runs the provider call through the agent's breaker. Input
// validation errors never touch the breaker.
func (c *ResilientClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	breakerName := resilience.AgentBreaker + ":" + string(c.inner.Name())
	value, err := c.breakers.Execute(ctx, breakerName, func() (interface{}, error) {
		return c.inner.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Response), nil
}
