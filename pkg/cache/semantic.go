package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/recall/pkg/crypto"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/vector"
)

// DefaultSimilarityThreshold is the minimum similarity for a semantic
// cache hit. Tunable at runtime.
const DefaultSimilarityThreshold = 0.92

// AnswerCacheConfig configures the semantic answer cache.
type AnswerCacheConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	TTL                 time.Duration `mapstructure:"ttl"`
	Prefix              string        `mapstructure:"prefix"`
	Enabled             bool          `mapstructure:"enabled"`
}

// DefaultAnswerCacheConfig returns production defaults.
func DefaultAnswerCacheConfig() AnswerCacheConfig {
	return AnswerCacheConfig{
		SimilarityThreshold: DefaultSimilarityThreshold,
		TTL:                 24 * time.Hour,
		Prefix:              "answer_cache",
		Enabled:             true,
	}
}

// AnswerEntry is one cached answer.
type AnswerEntry struct {
	ID             uuid.UUID  `json:"id"`
	CanonicalQuery string     `json:"canonical_query"`
	AnswerSummary  string     `json:"answer_summary"`
	Agent          string     `json:"agent"`
	Confidence     float64    `json:"confidence"`
	UsageCount     int        `json:"usage_count"`
	CostSavings    float64    `json:"cost_savings"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// LookupResult is a cache hit with its provenance.
type LookupResult struct {
	Entry      *AnswerEntry
	Similarity float64
	Status     models.CacheStatus
}

// AnswerCache layers an exact-match Redis front over a vector similarity
// probe. Lookups never fail the caller; every cache error degrades to a
// miss. A hit bumps usage statistics asynchronously so the read path does
// not block on writes.
type AnswerCache struct {
	cache      Cache
	store      vector.Store
	normalizer QueryNormalizer
	config     AnswerCacheConfig
	logger     observability.Logger
	metrics    observability.MetricsClient

	enabled   atomic.Bool
	mu        sync.RWMutex
	threshold float64

	pending sync.WaitGroup
}

// NewAnswerCache creates the semantic answer cache. The exact-match front
// may be nil, in which case only the vector probe runs.
func NewAnswerCache(cache Cache, store vector.Store, config AnswerCacheConfig, logger observability.Logger, metrics observability.MetricsClient) *AnswerCache {
	if config.SimilarityThreshold <= 0 || config.SimilarityThreshold > 1 {
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.Prefix == "" {
		config.Prefix = "answer_cache"
	}
	if logger == nil {
		logger = observability.NewStandardLogger("answer_cache")
	}

	c := &AnswerCache{
		cache:      cache,
		store:      store,
		normalizer: NewQueryNormalizer(),
		config:     config,
		logger:     logger,
		metrics:    metrics,
		threshold:  config.SimilarityThreshold,
	}
	c.enabled.Store(config.Enabled)
	return c
}

// Enabled reports whether lookups are active.
func (c *AnswerCache) Enabled() bool {
	return c.enabled.Load()
}

// SetEnabled flips the cache on or off. The auto-tuner disables the cache
// when hit quality degrades.
func (c *AnswerCache) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Threshold returns the current similarity threshold.
func (c *AnswerCache) Threshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

// SetThreshold adjusts the similarity threshold at runtime.
func (c *AnswerCache) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		return
	}
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
}

// Lookup checks the exact-match front, then the vector probe. A nil
// result with nil error is a miss.
func (c *AnswerCache) Lookup(ctx context.Context, query string, queryEmbedding []float32) (*LookupResult, error) {
	if !c.Enabled() {
		return nil, nil
	}

	normalized := c.normalizer.Normalize(query)
	if normalized == "" {
		return nil, nil
	}

	start := time.Now()

	if c.cache != nil {
		var entry AnswerEntry
		err := c.cache.Get(ctx, c.key(normalized), &entry)
		if err == nil {
			c.recordLookup("exact", true, start)
			c.bumpUsage(entry, normalized)
			return &LookupResult{
				Entry:      &entry,
				Similarity: 1.0,
				Status:     models.CacheStatusExactHit,
			}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("Exact-match cache read failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if len(queryEmbedding) == 0 {
		c.recordLookup("exact", false, start)
		return nil, nil
	}

	results, err := c.store.NearVector(ctx, vector.AnswerCache, queryEmbedding, 1, &vector.Filter{
		MinSimilarity: c.Threshold(),
	})
	if err != nil {
		c.logger.Error("Semantic cache probe failed", map[string]interface{}{
			"error": err.Error(),
		})
		c.recordLookup("semantic", false, start)
		return nil, nil
	}
	if len(results) == 0 {
		c.recordLookup("semantic", false, start)
		return nil, nil
	}

	best := results[0]
	entry := entryFromProps(best)
	c.recordLookup("semantic", true, start)
	c.bumpUsage(*entry, normalized)

	return &LookupResult{
		Entry:      entry,
		Similarity: best.Similarity,
		Status:     models.CacheStatusSemanticHit,
	}, nil
}

// Store writes a freshly generated answer into the cache. Returns the
// vector object id of the new entry.
func (c *AnswerCache) Store(ctx context.Context, query string, queryEmbedding []float32, entry AnswerEntry) (uuid.UUID, error) {
	if !c.Enabled() {
		return uuid.Nil, nil
	}

	normalized := c.normalizer.Normalize(query)
	if normalized == "" {
		return uuid.Nil, nil
	}

	if entry.CanonicalQuery == "" {
		entry.CanonicalQuery = query
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	props := map[string]interface{}{
		"canonical_query": entry.CanonicalQuery,
		"answer_summary":  entry.AnswerSummary,
		"agent":           entry.Agent,
		"confidence":      entry.Confidence,
		"usage_count":     entry.UsageCount,
		"cost_savings":    entry.CostSavings,
		"content":         normalized,
		"content_hash":    crypto.HashContent(normalized),
		"created_at":      entry.CreatedAt,
	}

	id, err := c.store.Insert(ctx, vector.AnswerCache, queryEmbedding, props)
	if err != nil {
		return uuid.Nil, err
	}
	entry.ID = id

	if c.cache != nil {
		if err := c.cache.Set(ctx, c.key(normalized), entry, c.config.TTL); err != nil {
			c.logger.Warn("Exact-match cache write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return id, nil
}

// Close waits for in-flight usage bumps to finish.
func (c *AnswerCache) Close() error {
	c.pending.Wait()
	return nil
}

// bumpUsage increments usage_count and refreshes last_used_at off the
// request path, and warms the exact-match front for this phrasing.
func (c *AnswerCache) bumpUsage(entry AnswerEntry, normalized string) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		now := time.Now().UTC()
		entry.UsageCount++
		entry.LastUsedAt = &now

		if entry.ID != uuid.Nil {
			err := c.store.Update(ctx, vector.AnswerCache, entry.ID, nil, map[string]interface{}{
				"usage_count":  entry.UsageCount,
				"last_used_at": now.Format(time.RFC3339),
			})
			if err != nil {
				c.logger.Warn("Usage bump failed", map[string]interface{}{
					"cache_id": entry.ID.String(),
					"error":    err.Error(),
				})
			}
		}

		if c.cache != nil {
			if err := c.cache.Set(ctx, c.key(normalized), entry, c.config.TTL); err != nil {
				c.logger.Debug("Exact-match warm failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}()
}

func (c *AnswerCache) key(normalized string) string {
	return c.config.Prefix + ":" + crypto.HashContent(normalized)
}

func (c *AnswerCache) recordLookup(kind string, hit bool, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCacheOperation("answer_"+kind, hit, time.Since(start).Seconds())
}

func entryFromProps(result vector.SearchResult) *AnswerEntry {
	entry := &AnswerEntry{
		ID:             result.ID,
		CanonicalQuery: propAsString(result.Props["canonical_query"]),
		AnswerSummary:  propAsString(result.Props["answer_summary"]),
		Agent:          propAsString(result.Props["agent"]),
		Confidence:     propAsFloat(result.Props["confidence"]),
		UsageCount:     int(propAsFloat(result.Props["usage_count"])),
		CostSavings:    propAsFloat(result.Props["cost_savings"]),
	}
	if t, ok := result.Props["created_at"].(time.Time); ok {
		entry.CreatedAt = t
	}
	if raw := propAsString(result.Props["last_used_at"]); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			entry.LastUsedAt = &t
		}
	}
	return entry
}

func propAsString(value interface{}) string {
	s, _ := value.(string)
	return s
}

func propAsFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
