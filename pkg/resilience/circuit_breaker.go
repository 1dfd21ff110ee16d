// Package resilience wraps outbound provider calls with circuit
// breaking and bounded retries. Request paths never retry on their own;
// retries live inside these wrappers only.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/S-Corkum/recall/pkg/observability"
)

// CircuitBreakerConfig holds configuration for circuit breakers
type CircuitBreakerConfig struct {
	Name         string        `mapstructure:"name"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// Common circuit breaker names
const (
	EmbeddingBreaker = "embedding"
	AgentBreaker     = "agent"
	VectorBreaker    = "vector"
	OAuthBreaker     = "oauth"
)

// BreakerManager owns a set of named circuit breakers. Breakers are
// created lazily with per-name config or defaults.
type BreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]CircuitBreakerConfig
	logger   observability.Logger
}

// NewBreakerManager creates a breaker manager with per-name configs.
func NewBreakerManager(configs map[string]CircuitBreakerConfig, logger observability.Logger) *BreakerManager {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &BreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  configs,
		logger:   logger,
	}
}

func (m *BreakerManager) breaker(name string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	config := m.configs[name]
	if config.Name == "" {
		config.Name = name
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 5
	}
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.FailureRatio == 0 {
		config.FailureRatio = 0.5
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= config.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.logger.Warn("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	m.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker, honoring ctx cancellation.
func (m *BreakerManager) Execute(ctx context.Context, name string, fn func() (interface{}, error)) (interface{}, error) {
	cb := m.breaker(name)

	resultCh := make(chan struct {
		result interface{}
		err    error
	}, 1)

	go func() {
		result, err := cb.Execute(fn)
		resultCh <- struct {
			result interface{}
			err    error
		}{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.result, res.err
	}
}

// State returns the current state of the named breaker.
func (m *BreakerManager) State(name string) gobreaker.State {
	return m.breaker(name).State()
}
