package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/S-Corkum/recall/pkg/crypto"
	"github.com/S-Corkum/recall/pkg/observability"
)

const (
	defaultLRUSize     = 2048
	defaultRedisTTL    = 24 * time.Hour
	embeddingKeyPrefix = "embedding:"
)

// CachedClient fronts a provider with an in-process LRU and an optional
// shared redis layer. Cache failures fall through to the provider.
type CachedClient struct {
	inner   Client
	local   *lru.Cache[string, []float32]
	redis   *redis.Client
	ttl     time.Duration
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCachedClient wraps a provider with caching. redisClient may be nil
// for LRU-only operation.
func NewCachedClient(inner Client, redisClient *redis.Client, size int, ttl time.Duration, logger observability.Logger, metrics observability.MetricsClient) (*CachedClient, error) {
	if size <= 0 {
		size = defaultLRUSize
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	local, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedClient{
		inner:   inner,
		local:   local,
		redis:   redisClient,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Model returns the wrapped provider's model name.
func (c *CachedClient) Model() string { return c.inner.Model() }

func (c *CachedClient) cacheKey(text string) string {
	return embeddingKeyPrefix + crypto.HashContent(c.inner.Model()+"\n"+text)
}

// Embed returns a cached vector when available, otherwise embeds and
// populates both cache layers.
func (c *CachedClient) Embed(ctx context.Context, text string) (*Result, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	key := c.cacheKey(text)

	if vector, ok := c.local.Get(key); ok {
		c.metrics.RecordCacheOperation("embedding_local", true, 0)
		return &Result{Vector: vector, Dimensions: len(vector), Model: c.inner.Model()}, nil
	}

	if c.redis != nil {
		payload, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var vector []float32
			if err := json.Unmarshal(payload, &vector); err == nil && len(vector) == Dimensions {
				c.local.Add(key, vector)
				c.metrics.RecordCacheOperation("embedding_redis", true, 0)
				return &Result{Vector: vector, Dimensions: len(vector), Model: c.inner.Model()}, nil
			}
		} else if err != redis.Nil {
			c.logger.Warn("embedding cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	c.metrics.RecordCacheOperation("embedding", false, 0)
	result, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.local.Add(key, result.Vector)
	if c.redis != nil {
		if payload, err := json.Marshal(result.Vector); err == nil {
			if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
				c.logger.Warn("embedding cache write failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return result, nil
}

// EmbedBatch embeds texts one at a time through the cache.
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
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
