package models

import "time"

// Intent is the coarse classification of what a query is asking for.
type Intent string

const (
	IntentFactual     Intent = "FACTUAL"
	IntentAnalysis    Intent = "ANALYSIS"
	IntentCreative    Intent = "CREATIVE"
	IntentResearch    Intent = "RESEARCH"
	IntentMemoryQuery Intent = "MEMORY_QUERY"
)

// CacheStatus reports how the answer was produced.
type CacheStatus string

const (
	// CacheStatusFresh means the answer came from a live model call.
	CacheStatusFresh CacheStatus = "fresh_generation"
	// CacheStatusSemanticHit means a semantically similar prior answer was reused.
	CacheStatusSemanticHit CacheStatus = "semantic_cache_hit"
	// CacheStatusExactHit means the normalized query matched a prior answer exactly.
	CacheStatusExactHit CacheStatus = "cache_hit"
)

// ResponseSource records where a query's answer ultimately came from.
// query_metrics is the source of truth; feedback rows are back-filled
// from it.
type ResponseSource string

const (
	ResponseSourcePending       ResponseSource = "pending"
	ResponseSourceFresh         ResponseSource = "fresh_generation"
	ResponseSourceSemanticCache ResponseSource = "semantic_cache"
	ResponseSourceExactCache    ResponseSource = "cache"
	ResponseSourceError         ResponseSource = "error"
)

// QueryMetrics is one row per ask: what was asked, how it was answered,
// and what it cost.
type QueryMetrics struct {
	QueryID         string         `json:"query_id" db:"query_id"`
	UserID          string         `json:"user_id" db:"user_id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	QueryText       string         `json:"query_text" db:"query_text"`
	QueryHash       string         `json:"query_hash" db:"query_hash"`
	Intent          Intent         `json:"intent" db:"intent"`
	AgentUsed       string         `json:"agent_used" db:"agent_used"`
	ResponseSource  ResponseSource `json:"response_source" db:"response_source"`
	Answer          string         `json:"answer,omitempty" db:"answer"`
	Confidence      float64        `json:"confidence" db:"confidence"`
	SearchLatencyMs int64          `json:"search_latency_ms" db:"search_latency_ms"`
	LLMLatencyMs    int64          `json:"llm_latency_ms" db:"llm_latency_ms"`
	TotalLatencyMs  int64          `json:"total_latency_ms" db:"total_latency_ms"`
	InputTokens     int            `json:"input_tokens" db:"input_tokens"`
	OutputTokens    int            `json:"output_tokens" db:"output_tokens"`
	EstCostUSD      float64        `json:"est_cost_usd" db:"est_cost_usd"`
	MemoriesUsed    []string       `json:"memories_used,omitempty" db:"-"`
	Enriched        bool           `json:"enriched" db:"enriched"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// QueryAnalytics is the per-request cost and latency breakdown returned
// to the caller alongside the answer.
type QueryAnalytics struct {
	QueryID          string         `json:"query_id"`
	TotalLatencyMs   int64          `json:"total_latency_ms"`
	SearchLatencyMs  int64          `json:"search_latency_ms"`
	LLMLatencyMs     int64          `json:"llm_latency_ms"`
	InputTokens      int            `json:"input_tokens"`
	OutputTokens     int            `json:"output_tokens"`
	EstCostUSD       float64        `json:"est_cost_usd"`
	PrivacyFilter    []PrivacyLevel `json:"privacy_filter"`
	MemoriesSearched int            `json:"memories_searched"`
	MemoriesFiltered int            `json:"memories_filtered"`
	MemoriesUsed     int            `json:"memories_used"`
	CacheHit         bool           `json:"cache_hit"`
	CacheSimilarity  *float64       `json:"cache_similarity,omitempty"`
}

// PipelineStep is one entry in the trace returned with an answer.
type PipelineStep struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
}

// QualityValidation is the validator verdict attached to an answer.
type QualityValidation struct {
	Confidence    float64 `json:"confidence"`
	ShouldStore   bool    `json:"should_store"`
	FlaggedReason string  `json:"flagged_reason,omitempty"`
}
