package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/vector"
)

// Retrieval defaults. The raw leg is tight because its entries are
// verbatim content; the knowledge leg is loose because entries are
// already distilled.
const (
	DefaultRawLimit           = 5
	DefaultKnowledgeLimit     = 10
	DefaultRawThreshold       = 0.85
	DefaultKnowledgeThreshold = 0.60
)

// SearchOptions tune one retrieval pass. Zero values take the defaults.
type SearchOptions struct {
	RawLimit           int
	KnowledgeLimit     int
	RawThreshold       float64
	KnowledgeThreshold float64
	// CrossSource adds a third leg over the Insights collection.
	CrossSource bool
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.RawLimit <= 0 {
		o.RawLimit = DefaultRawLimit
	}
	if o.KnowledgeLimit <= 0 {
		o.KnowledgeLimit = DefaultKnowledgeLimit
	}
	if o.RawThreshold <= 0 {
		o.RawThreshold = DefaultRawThreshold
	}
	if o.KnowledgeThreshold <= 0 {
		o.KnowledgeThreshold = DefaultKnowledgeThreshold
	}
	return o
}

// RetrievedMemory is one raw-collection hit. When the stored content is
// a Q&A snapshot it is decoded into its query/answer halves.
type RetrievedMemory struct {
	VectorID         uuid.UUID
	MemoryID         string
	Content          string
	CanonicalQuery   string
	SummarizedAnswer string
	Similarity       float64
	PrivacyLevel     string
	Tags             []string
	Props            map[string]interface{}
}

// KnowledgeHit is one distilled-knowledge hit.
type KnowledgeHit struct {
	VectorID       uuid.UUID
	CanonicalQuery string
	AnswerSummary  string
	TopicCluster   string
	Similarity     float64
	CreatedAt      time.Time
}

// InsightHit is one cross-source insight hit.
type InsightHit struct {
	VectorID   uuid.UUID
	Insight    string
	Similarity float64
}

// RetrievalResult is the merged output of one search pass. Searched
// counts the candidates examined before threshold filtering.
type RetrievalResult struct {
	Raw       []RetrievedMemory
	Knowledge []KnowledgeHit
	Insights  []InsightHit
	Searched  int
}

// Retriever runs the parallel dual-collection search. A failed leg
// degrades to an empty list; retrieval never errors to the caller.
type Retriever struct {
	store   vector.Store
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewRetriever creates a retriever over the vector store.
func NewRetriever(store vector.Store, logger observability.Logger, metrics observability.MetricsClient) *Retriever {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Retriever{store: store, logger: logger, metrics: metrics}
}

// Search runs the raw and knowledge legs in parallel, plus an insights
// leg when cross-source is requested. Each leg fetches 2x its limit,
// filters to its threshold, sorts by similarity, and truncates.
func (r *Retriever) Search(ctx context.Context, queryVec []float32, userID string, opts SearchOptions) *RetrievalResult {
	opts = opts.withDefaults()
	result := &RetrievalResult{}

	var rawHits, knowHits, insightHits []vector.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rawHits = r.leg(gctx, vector.Raw, queryVec, userID, opts.RawLimit)
		return nil
	})
	g.Go(func() error {
		knowHits = r.leg(gctx, vector.Knowledge, queryVec, userID, opts.KnowledgeLimit)
		return nil
	})
	if opts.CrossSource {
		g.Go(func() error {
			insightHits = r.leg(gctx, vector.Insights, queryVec, userID, opts.KnowledgeLimit)
			return nil
		})
	}
	_ = g.Wait()

	result.Searched = len(rawHits) + len(knowHits) + len(insightHits)
	result.Raw = decodeRawHits(filterHits(rawHits, opts.RawThreshold, opts.RawLimit))
	result.Knowledge = decodeKnowledgeHits(filterHits(knowHits, opts.KnowledgeThreshold, opts.KnowledgeLimit))
	result.Insights = decodeInsightHits(filterHits(insightHits, opts.KnowledgeThreshold, opts.KnowledgeLimit))

	if r.metrics != nil {
		r.metrics.RecordHistogram("retrieval_candidates", float64(result.Searched), nil)
	}
	return result
}

// leg runs one collection search and swallows its failure.
func (r *Retriever) leg(ctx context.Context, collection vector.Collection, queryVec []float32, userID string, limit int) []vector.SearchResult {
	filter := &vector.Filter{UserID: userID}
	hits, err := r.store.NearVector(ctx, collection, queryVec, 2*limit, filter)
	if err != nil {
		r.logger.Warn("Retrieval leg failed", map[string]interface{}{
			"collection": string(collection),
			"error":      err.Error(),
		})
		if r.metrics != nil {
			r.metrics.IncrementCounterWithLabels("retrieval_leg_failures_total", 1, map[string]string{
				"collection": string(collection),
			})
		}
		return nil
	}
	return hits
}

func filterHits(hits []vector.SearchResult, threshold float64, limit int) []vector.SearchResult {
	kept := make([]vector.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity >= threshold {
			kept = append(kept, hit)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Similarity > kept[j].Similarity })
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func decodeRawHits(hits []vector.SearchResult) []RetrievedMemory {
	out := make([]RetrievedMemory, 0, len(hits))
	for _, hit := range hits {
		mem := RetrievedMemory{
			VectorID:     hit.ID,
			MemoryID:     propString(hit.Props, "source_id"),
			Content:      propString(hit.Props, "content"),
			Similarity:   hit.Similarity,
			PrivacyLevel: propString(hit.Props, "privacy_level"),
			Tags:         propStrings(hit.Props, "tags"),
			Props:        hit.Props,
		}
		if q, a, ok := decodeQA(mem.Content); ok {
			mem.CanonicalQuery = q
			mem.SummarizedAnswer = a
		}
		out = append(out, mem)
	}
	return out
}

func decodeKnowledgeHits(hits []vector.SearchResult) []KnowledgeHit {
	out := make([]KnowledgeHit, 0, len(hits))
	for _, hit := range hits {
		kh := KnowledgeHit{
			VectorID:       hit.ID,
			CanonicalQuery: propString(hit.Props, "canonical_query"),
			AnswerSummary:  propString(hit.Props, "answer_summary"),
			TopicCluster:   propString(hit.Props, "topic_cluster"),
			Similarity:     hit.Similarity,
		}
		if ts, err := time.Parse(time.RFC3339, propString(hit.Props, "created_at")); err == nil {
			kh.CreatedAt = ts
		}
		out = append(out, kh)
	}
	return out
}

func decodeInsightHits(hits []vector.SearchResult) []InsightHit {
	out := make([]InsightHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, InsightHit{
			VectorID:   hit.ID,
			Insight:    propString(hit.Props, "insight"),
			Similarity: hit.Similarity,
		})
	}
	return out
}

// decodeQA splits "Q: ...\nA: ..." snapshot content.
func decodeQA(content string) (query, answer string, ok bool) {
	if !strings.HasPrefix(content, "Q: ") {
		return "", "", false
	}
	idx := strings.Index(content, "\nA: ")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(content[3:idx]), strings.TrimSpace(content[idx+4:]), true
}

func propString(props map[string]interface{}, key string) string {
	if props == nil {
		return ""
	}
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func propStrings(props map[string]interface{}, key string) []string {
	if props == nil {
		return nil
	}
	switch v := props[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func propFloat(props map[string]interface{}, key string) float64 {
	if props == nil {
		return 0
	}
	switch v := props[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
