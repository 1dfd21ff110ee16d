package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/resilience"
)

// Config selects and tunes the embedding provider.
type Config struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	AWSRegion      string `mapstructure:"aws_region"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	CacheSize      int    `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// NewFromConfig builds the full provider stack: base client, resilience
// wrapper, then cache. Provider is inferred from the model name when
// not set explicitly.
func NewFromConfig(ctx context.Context, cfg Config, redisClient *redis.Client, breakers *resilience.BreakerManager, logger observability.Logger, metrics observability.MetricsClient) (Client, error) {
	provider := cfg.Provider
	if provider == "" {
		if strings.HasPrefix(cfg.Model, "amazon.titan") || strings.HasPrefix(cfg.Model, "titan") {
			provider = "bedrock"
		} else {
			provider = "openai"
		}
	}

	var base Client
	var err error
	switch provider {
	case "bedrock":
		base, err = NewBedrockClient(ctx, cfg.AWSRegion)
	case "openai":
		base, err = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.Endpoint, time.Duration(cfg.TimeoutSeconds)*time.Second)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}

	resilient := NewResilientClient(base, breakers, resilience.DefaultRetryConfig())
	return NewCachedClient(resilient, redisClient, cfg.CacheSize, cfg.CacheTTL, logger, metrics)
}
