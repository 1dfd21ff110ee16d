package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/cache"
	"github.com/S-Corkum/recall/pkg/crypto"
	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/quality"
	"github.com/S-Corkum/recall/pkg/ranking"
	"github.com/S-Corkum/recall/pkg/vector"
)

const (
	// DefaultContextLimit is how many ranked sources go into the prompt
	// when the caller does not choose.
	DefaultContextLimit = 10
	maxContextLimit     = 20
	// maxPromptChars bounds the assembled context block; sources are
	// dropped lowest-ranked first once the budget is spent.
	maxPromptChars = 50000
	// knowledgeSummaryMax truncates answers distilled into the knowledge
	// collection.
	knowledgeSummaryMax = 500

	degradedAnswer = "I'm unable to answer right now. Please try again in a moment."

	synthesisSystem = "You are a personal memory assistant. Answer using the provided " +
		"memory context when it is relevant. When the context does not cover the " +
		"question, say so rather than inventing details. Be concise and specific."
)

// defaultPrivacyFilter is what leaves the process when the caller does
// not narrow it. LOCAL_ONLY is excluded unconditionally and cannot be
// requested.
var defaultPrivacyFilter = []models.PrivacyLevel{
	models.PrivacyPublic,
	models.PrivacyInternal,
	models.PrivacyConfidential,
}

// AskRequest is one question through the full pipeline.
type AskRequest struct {
	Query           string                `json:"query"`
	UserID          string                `json:"-"`
	TenantID        string                `json:"-"`
	ConversationID  string                `json:"conversation_id,omitempty"`
	ClientMessageID string                `json:"client_message_id,omitempty"`
	ManualAgent     string                `json:"agent,omitempty"`
	BypassCache     bool                  `json:"bypass_cache,omitempty"`
	ContextLimit    int                   `json:"context_limit,omitempty"`
	FileContext     string                `json:"file_context,omitempty"`
	CrossSource     bool                  `json:"cross_source,omitempty"`
	PrivacyFilter   []models.PrivacyLevel `json:"privacy_filter,omitempty"`
}

// Source is one piece of context that backed an answer.
type Source struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// AskResponse is the answer plus its full provenance.
type AskResponse struct {
	Answer            string                    `json:"answer"`
	Sources           []Source                  `json:"sources"`
	Confidence        float64                   `json:"confidence"`
	QueryID           string                    `json:"query_id"`
	ConversationID    string                    `json:"conversation_id,omitempty"`
	AgentUsed         string                    `json:"agent_used"`
	IntentDetected    string                    `json:"intent_detected"`
	CacheStatus       models.CacheStatus        `json:"cache_status"`
	QualityValidation *models.QualityValidation `json:"quality_validation,omitempty"`
	Analytics         models.QueryAnalytics     `json:"analytics"`
	PipelineTrace     []models.PipelineStep     `json:"pipeline_trace,omitempty"`
}

// Orchestrator runs the ask pipeline: classify, retrieve, rank, filter,
// synthesize, validate, learn.
type Orchestrator struct {
	memories      *MemoryService
	conversations *ConversationService
	retriever     *Retriever
	memoryRepo    repository.MemoryRepository
	metricsRepo   repository.QueryMetricsRepository
	vectors       vector.Store
	embedder      embedding.Client
	registry      *agents.Registry
	answerCache   *cache.AnswerCache
	scorer        *ranking.Scorer
	validator     *quality.Validator
	overrides     *Overrides
	audit         audit.Recorder
	logger        observability.Logger
	metrics       observability.MetricsClient
}

// OrchestratorDeps carries the pipeline's collaborators.
type OrchestratorDeps struct {
	Memories      *MemoryService
	Conversations *ConversationService
	Retriever     *Retriever
	MemoryRepo    repository.MemoryRepository
	MetricsRepo   repository.QueryMetricsRepository
	Vectors       vector.Store
	Embedder      embedding.Client
	Registry      *agents.Registry
	AnswerCache   *cache.AnswerCache
	Scorer        *ranking.Scorer
	Validator     *quality.Validator
	Overrides     *Overrides
	Audit         audit.Recorder
	Logger        observability.Logger
	Metrics       observability.MetricsClient
}

// NewOrchestrator wires the ask pipeline.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = observability.NewNoopLogger()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNoopRecorder()
	}
	if deps.Scorer == nil {
		deps.Scorer = ranking.NewScorer(ranking.DefaultWeights)
	}
	if deps.Validator == nil {
		deps.Validator = quality.NewValidator()
	}
	if deps.Overrides == nil {
		deps.Overrides = NewOverrides()
	}
	return &Orchestrator{
		memories:      deps.Memories,
		conversations: deps.Conversations,
		retriever:     deps.Retriever,
		memoryRepo:    deps.MemoryRepo,
		metricsRepo:   deps.MetricsRepo,
		vectors:       deps.Vectors,
		embedder:      deps.Embedder,
		registry:      deps.Registry,
		answerCache:   deps.AnswerCache,
		scorer:        deps.Scorer,
		validator:     deps.Validator,
		overrides:     deps.Overrides,
		audit:         deps.Audit,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
	}
}

// candidate is a ranked context source before truncation.
type candidate struct {
	source     Source
	memoryID   string
	privacy    models.PrivacyLevel
	hasPrivacy bool
}

// Ask answers one query. Infrastructure failures past validation degrade
// to an apologetic answer rather than an error: the caller always gets a
// response and the metrics row records what happened.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}

	started := time.Now()
	trace := newTracer()

	pending := &models.QueryMetrics{
		QueryID:        uuid.New().String(),
		UserID:         req.UserID,
		TenantID:       req.TenantID,
		QueryText:      req.Query,
		QueryHash:      crypto.HashContent(req.Query),
		ResponseSource: models.ResponseSourcePending,
	}
	if err := o.metricsRepo.Create(ctx, pending); err != nil {
		o.logger.Warn("Query metrics row creation failed", map[string]interface{}{
			"query_id": pending.QueryID,
			"error":    err.Error(),
		})
	}

	// Conversation context loads before the new turn is appended so the
	// prompt does not repeat the question.
	var conv *models.Conversation
	var convCtx *models.ConversationContext
	if req.ConversationID != "" || req.ClientMessageID != "" {
		var err error
		conv, err = o.conversations.GetOrCreate(ctx, req.TenantID, req.UserID, req.ConversationID, req.ManualAgent)
		if err != nil {
			return nil, err
		}
		convCtx, err = o.conversations.LoadContext(ctx, conv, DefaultContextLimit)
		if err != nil {
			o.logger.Warn("Conversation context load failed", map[string]interface{}{
				"conversation_id": conv.ID,
				"error":           err.Error(),
			})
			convCtx = nil
		}
		trace.step("conversation_context", "")
	}

	intent := ClassifyIntent(req.Query)
	pending.Intent = models.Intent(intent)
	if conv != nil {
		o.conversations.RecordIntent(ctx, conv, intent)
	}
	trace.step("intent_classification", intent)

	agentName, err := o.selectAgent(req.ManualAgent)
	if err != nil {
		return nil, err
	}

	embedResult, err := o.embedder.Embed(ctx, req.Query)
	if err != nil {
		o.logger.Error("Query embedding failed", map[string]interface{}{
			"query_id": pending.QueryID,
			"error":    err.Error(),
		})
		return o.degrade(ctx, req, conv, pending, intent, string(agentName), started, trace), nil
	}
	queryVec := embedResult.Vector
	trace.step("embedding", embedResult.Model)

	resp := &AskResponse{
		QueryID:        pending.QueryID,
		IntentDetected: intent,
		CacheStatus:    models.CacheStatusFresh,
	}
	if conv != nil {
		resp.ConversationID = conv.ID
	}

	if hit := o.probeCache(ctx, req, queryVec); hit != nil {
		trace.step("cache_lookup", string(hit.Status))
		return o.respondFromCache(ctx, req, conv, pending, resp, hit, started, trace), nil
	}
	trace.step("cache_lookup", "miss")

	searchStart := time.Now()
	retrieval := o.retriever.Search(ctx, queryVec, req.UserID, SearchOptions{CrossSource: req.CrossSource})
	searchLatency := time.Since(searchStart).Milliseconds()
	trace.step("retrieval", fmt.Sprintf("%d candidates", retrieval.Searched))

	candidates := o.rankCandidates(ctx, retrieval)
	trace.step("ranking", fmt.Sprintf("%d ranked", len(candidates)))

	allowed := req.PrivacyFilter
	if len(allowed) == 0 {
		allowed = defaultPrivacyFilter
	}
	kept, filtered := applyPrivacyFilter(candidates, allowed)
	if filtered > 0 {
		o.logger.Debug("Privacy filter removed sources", map[string]interface{}{
			"query_id": pending.QueryID,
			"filtered": filtered,
		})
	}
	trace.step("privacy_filter", fmt.Sprintf("%d removed", filtered))

	ctxLimit := o.contextLimit(req.ContextLimit)
	if len(kept) > ctxLimit {
		kept = kept[:ctxLimit]
	}

	sources := make([]Source, 0, len(kept))
	usedMemoryIDs := make([]string, 0, len(kept))
	highest := models.PrivacyPublic
	for _, c := range kept {
		sources = append(sources, c.source)
		if c.memoryID != "" {
			usedMemoryIDs = append(usedMemoryIDs, c.memoryID)
		}
		if c.hasPrivacy && privacyRank(c.privacy) > privacyRank(highest) {
			highest = c.privacy
		}
	}

	prompt := buildPrompt(req.Query, convCtx, sources, req.FileContext)
	trace.step("prompt_assembly", fmt.Sprintf("%d chars", len(prompt)))

	// Egress is recorded before the call so a provider crash cannot hide
	// that context left the process.
	o.audit.LogEgress(ctx, string(agentName), "query_context", len(sources),
		models.ClassificationForPrivacy(highest), map[string]interface{}{
			"query_id": pending.QueryID,
			"agent":    string(agentName),
		})

	llmStart := time.Now()
	completion, err := o.registry.Complete(ctx, agentName, agents.Request{
		System:      synthesisSystem,
		Prompt:      prompt,
		Temperature: -1,
	})
	llmLatency := time.Since(llmStart).Milliseconds()
	if err != nil {
		o.logger.Error("Agent completion failed", map[string]interface{}{
			"query_id": pending.QueryID,
			"agent":    string(agentName),
			"error":    err.Error(),
		})
		pending.SearchLatencyMs = searchLatency
		return o.degrade(ctx, req, conv, pending, intent, string(agentName), started, trace), nil
	}
	trace.step("synthesis", completion.Model)

	validation := o.validator.Score(completion.Text, quality.Evidence{
		HasDocuments:    len(sources) > 0,
		HasConversation: convCtx != nil && len(convCtx.RecentTurns) > 0,
		SourceCount:     len(sources),
	})
	trace.step("quality_validation", fmt.Sprintf("confidence %.2f", validation.Confidence))

	o.appendTurns(ctx, conv, req, completion.Text, pending.QueryID, string(agentName), completion.CostUSD)

	if validation.ShouldStore {
		o.learn(ctx, req, queryVec, completion.Text, intent, string(agentName), validation.Confidence)
		trace.step("learning", "stored")
	}

	o.memories.TouchAll(ctx, usedMemoryIDs)

	pending.Intent = models.Intent(intent)
	pending.AgentUsed = string(agentName)
	pending.ResponseSource = models.ResponseSourceFresh
	pending.Answer = completion.Text
	pending.Confidence = validation.Confidence
	pending.SearchLatencyMs = searchLatency
	pending.LLMLatencyMs = llmLatency
	pending.TotalLatencyMs = time.Since(started).Milliseconds()
	pending.InputTokens = completion.InputTokens
	pending.OutputTokens = completion.OutputTokens
	pending.EstCostUSD = completion.CostUSD
	pending.MemoriesUsed = usedMemoryIDs
	o.finalize(ctx, pending)

	resp.Answer = completion.Text
	resp.Sources = sources
	resp.Confidence = validation.Confidence
	resp.AgentUsed = string(agentName)
	resp.QualityValidation = &validation
	resp.Analytics = models.QueryAnalytics{
		QueryID:          pending.QueryID,
		TotalLatencyMs:   pending.TotalLatencyMs,
		SearchLatencyMs:  searchLatency,
		LLMLatencyMs:     llmLatency,
		InputTokens:      completion.InputTokens,
		OutputTokens:     completion.OutputTokens,
		EstCostUSD:       completion.CostUSD,
		PrivacyFilter:    allowed,
		MemoriesSearched: retrieval.Searched,
		MemoriesFiltered: filtered,
		MemoriesUsed:     len(sources),
	}
	resp.PipelineTrace = trace.steps()

	if o.metrics != nil {
		o.metrics.IncrementCounterWithLabels("queries_total", 1, map[string]string{
			"intent": intent,
			"source": string(models.ResponseSourceFresh),
		})
		o.metrics.RecordTimer("query_total_latency", time.Since(started), map[string]string{"intent": intent})
	}
	return resp, nil
}

func (o *Orchestrator) contextLimit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = o.overrides.Int(OverrideContextLimit, DefaultContextLimit)
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxContextLimit {
		limit = maxContextLimit
	}
	return limit
}

// selectAgent resolves manual override, then the tuner's routing
// override, then the registry default. An unknown manual agent is a
// validation error; an unknown override falls through.
func (o *Orchestrator) selectAgent(manual string) (agents.Agent, error) {
	if manual != "" {
		name := agents.Agent(manual)
		if !o.registry.Has(name) {
			return "", fmt.Errorf("%w: unknown agent %q", ErrValidation, manual)
		}
		return name, nil
	}
	if override := o.overrides.String(OverrideDefaultModel, ""); override != "" {
		name := agents.Agent(override)
		if o.registry.Has(name) {
			return name, nil
		}
		o.logger.Warn("Model routing override names unregistered agent", map[string]interface{}{
			"agent": override,
		})
	}
	return o.registry.Default(), nil
}

// probeCache returns a hit or nil. Bypass, a disabled cache, and cache
// errors all read as a miss.
func (o *Orchestrator) probeCache(ctx context.Context, req AskRequest, queryVec []float32) *cache.LookupResult {
	if o.answerCache == nil || req.BypassCache {
		return nil
	}
	enabled := o.answerCache.Enabled()
	enabled = o.overrides.Bool(OverrideSemanticCacheEnabled, enabled)
	if !enabled {
		return nil
	}
	hit, err := o.answerCache.Lookup(ctx, req.Query, queryVec)
	if err != nil || hit == nil {
		return nil
	}
	return hit
}

// respondFromCache finishes the pipeline from a cache hit: zero model
// cost, no retrieval, turns still recorded.
func (o *Orchestrator) respondFromCache(ctx context.Context, req AskRequest, conv *models.Conversation, pending *models.QueryMetrics, resp *AskResponse, hit *cache.LookupResult, started time.Time, trace *tracer) *AskResponse {
	source := models.ResponseSourceSemanticCache
	if hit.Status == models.CacheStatusExactHit {
		source = models.ResponseSourceExactCache
	}

	o.appendTurns(ctx, conv, req, hit.Entry.AnswerSummary, pending.QueryID, hit.Entry.Agent, 0)

	pending.AgentUsed = hit.Entry.Agent
	pending.ResponseSource = source
	pending.Answer = hit.Entry.AnswerSummary
	pending.Confidence = hit.Entry.Confidence
	pending.TotalLatencyMs = time.Since(started).Milliseconds()
	o.finalize(ctx, pending)

	similarity := hit.Similarity
	resp.Answer = hit.Entry.AnswerSummary
	resp.Confidence = hit.Entry.Confidence
	resp.AgentUsed = hit.Entry.Agent
	resp.CacheStatus = hit.Status
	resp.Analytics = models.QueryAnalytics{
		QueryID:         pending.QueryID,
		TotalLatencyMs:  pending.TotalLatencyMs,
		PrivacyFilter:   req.PrivacyFilter,
		CacheHit:        true,
		CacheSimilarity: &similarity,
	}
	if len(resp.Analytics.PrivacyFilter) == 0 {
		resp.Analytics.PrivacyFilter = defaultPrivacyFilter
	}
	resp.PipelineTrace = trace.steps()

	if o.metrics != nil {
		o.metrics.IncrementCounterWithLabels("queries_total", 1, map[string]string{
			"intent": string(pending.Intent),
			"source": string(source),
		})
	}
	return resp
}

// degrade produces the apologetic answer after an infrastructure
// failure. The response is still a success to the caller; the metrics
// row carries the error source.
func (o *Orchestrator) degrade(ctx context.Context, req AskRequest, conv *models.Conversation, pending *models.QueryMetrics, intent, agentName string, started time.Time, trace *tracer) *AskResponse {
	o.appendTurns(ctx, conv, req, degradedAnswer, pending.QueryID, agentName, 0)

	pending.Intent = models.Intent(intent)
	pending.AgentUsed = agentName
	pending.ResponseSource = models.ResponseSourceError
	pending.Answer = degradedAnswer
	pending.Confidence = 0
	pending.TotalLatencyMs = time.Since(started).Milliseconds()
	o.finalize(ctx, pending)

	resp := &AskResponse{
		Answer:         degradedAnswer,
		QueryID:        pending.QueryID,
		IntentDetected: intent,
		AgentUsed:      agentName,
		CacheStatus:    models.CacheStatusFresh,
		Analytics: models.QueryAnalytics{
			QueryID:        pending.QueryID,
			TotalLatencyMs: pending.TotalLatencyMs,
		},
		PipelineTrace: trace.steps(),
	}
	if conv != nil {
		resp.ConversationID = conv.ID
	}
	if o.metrics != nil {
		o.metrics.IncrementCounterWithLabels("queries_total", 1, map[string]string{
			"intent": intent,
			"source": string(models.ResponseSourceError),
		})
	}
	return resp
}

// rankCandidates enriches raw hits with their relational rows and scores
// every source with the composite relevance blend.
func (o *Orchestrator) rankCandidates(ctx context.Context, retrieval *RetrievalResult) []candidate {
	ids := make([]string, 0, len(retrieval.Raw))
	for _, hit := range retrieval.Raw {
		if hit.MemoryID != "" {
			ids = append(ids, hit.MemoryID)
		}
	}
	items := map[string]*models.MemoryItem{}
	if len(ids) > 0 {
		rows, err := o.memoryRepo.ListByIDs(ctx, ids)
		if err != nil {
			o.logger.Warn("Memory enrichment failed", map[string]interface{}{"error": err.Error()})
		} else {
			for _, row := range rows {
				items[row.ID] = row
			}
		}
	}

	candidates := make([]candidate, 0, len(retrieval.Raw)+len(retrieval.Knowledge)+len(retrieval.Insights))
	for _, hit := range retrieval.Raw {
		c := candidate{
			source: Source{
				Type:       "memory",
				ID:         hit.MemoryID,
				Content:    hit.Content,
				Similarity: hit.Similarity,
			},
			memoryID: hit.MemoryID,
		}
		if c.source.ID == "" {
			c.source.ID = hit.VectorID.String()
		}
		if item, ok := items[hit.MemoryID]; ok {
			c.source.Score = o.scorer.ScoreMemory(item, hit.Similarity)
			c.privacy = item.PrivacyLevel
			c.hasPrivacy = true
		} else {
			c.source.Score = o.scorer.Score(ranking.Signals{Similarity: hit.Similarity, Tier: models.TierShort})
			if hit.PrivacyLevel != "" {
				c.privacy = models.PrivacyLevel(hit.PrivacyLevel)
				c.hasPrivacy = true
			}
		}
		candidates = append(candidates, c)
	}
	for _, hit := range retrieval.Knowledge {
		content := hit.AnswerSummary
		if hit.CanonicalQuery != "" {
			content = fmt.Sprintf("Q: %s\nA: %s", hit.CanonicalQuery, hit.AnswerSummary)
		}
		candidates = append(candidates, candidate{
			source: Source{
				Type:       "knowledge",
				ID:         hit.VectorID.String(),
				Content:    content,
				Similarity: hit.Similarity,
				Score:      o.scorer.Score(ranking.Signals{Similarity: hit.Similarity, CreatedAt: hit.CreatedAt, Tier: models.TierMid}),
			},
		})
	}
	for _, hit := range retrieval.Insights {
		candidates = append(candidates, candidate{
			source: Source{
				Type:       "insight",
				ID:         hit.VectorID.String(),
				Content:    hit.Insight,
				Similarity: hit.Similarity,
				Score:      o.scorer.Score(ranking.Signals{Similarity: hit.Similarity, Tier: models.TierLong}),
			},
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].source.Score > candidates[j].source.Score
	})
	return candidates
}

// applyPrivacyFilter drops LOCAL_ONLY unconditionally and anything
// outside the allowed set. Sources without a privacy level are distilled
// artifacts and pass through.
func applyPrivacyFilter(candidates []candidate, allowed []models.PrivacyLevel) ([]candidate, int) {
	allowedSet := map[models.PrivacyLevel]bool{}
	for _, level := range allowed {
		if level == models.PrivacyLocalOnly {
			continue
		}
		allowedSet[level] = true
	}
	kept := make([]candidate, 0, len(candidates))
	filtered := 0
	for _, c := range candidates {
		if !c.hasPrivacy {
			kept = append(kept, c)
			continue
		}
		if c.privacy == models.PrivacyLocalOnly || !allowedSet[c.privacy] {
			filtered++
			continue
		}
		kept = append(kept, c)
	}
	return kept, filtered
}

func privacyRank(level models.PrivacyLevel) int {
	switch level {
	case models.PrivacyConfidential:
		return 3
	case models.PrivacyInternal:
		return 2
	case models.PrivacyPublic:
		return 1
	}
	return 0
}

// buildPrompt assembles the synthesis prompt: rolling summary, recent
// turns, ranked sources under a character budget, optional file context,
// then the question.
func buildPrompt(query string, convCtx *models.ConversationContext, sources []Source, fileContext string) string {
	var b strings.Builder

	if convCtx != nil {
		if convCtx.Summary != "" {
			b.WriteString("Conversation summary:\n")
			b.WriteString(convCtx.Summary)
			b.WriteString("\n\n")
		}
		if len(convCtx.RecentTurns) > 0 {
			b.WriteString("Recent conversation:\n")
			for _, turn := range convCtx.RecentTurns {
				b.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
			}
			b.WriteString("\n")
		}
	}

	if len(sources) > 0 {
		b.WriteString("Memory context:\n")
		budget := maxPromptChars - b.Len()
		for i, src := range sources {
			block := fmt.Sprintf("[%d] (%s) %s\n", i+1, src.Type, src.Content)
			if len(block) > budget {
				break
			}
			b.WriteString(block)
			budget -= len(block)
		}
		b.WriteString("\n")
	}

	if fileContext != "" {
		b.WriteString("Attached context:\n")
		b.WriteString(fileContext)
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// appendTurns records the question and answer on the conversation. Both
// writes are best-effort; the answer has already been produced.
func (o *Orchestrator) appendTurns(ctx context.Context, conv *models.Conversation, req AskRequest, answer, queryID, agentName string, costUSD float64) {
	if conv == nil {
		return
	}
	if _, _, err := o.conversations.AppendTurn(ctx, conv, models.RoleUser, req.Query, req.ClientMessageID, nil); err != nil {
		o.logger.Warn("User turn append failed", map[string]interface{}{
			"conversation_id": conv.ID,
			"error":           err.Error(),
		})
	}
	meta := map[string]interface{}{
		"query_id": queryID,
		"agent":    agentName,
		"cost_usd": costUSD,
	}
	if _, _, err := o.conversations.AppendTurn(ctx, conv, models.RoleAssistant, answer, "", meta); err != nil {
		o.logger.Warn("Assistant turn append failed", map[string]interface{}{
			"conversation_id": conv.ID,
			"error":           err.Error(),
		})
	}
	if _, err := o.conversations.UpdateSummaryIfNeeded(ctx, conv, false); err != nil {
		o.logger.Debug("Summary refresh failed", map[string]interface{}{
			"conversation_id": conv.ID,
			"error":           err.Error(),
		})
	}
}

// learn persists a quality answer three ways: the semantic cache, a raw
// Q&A snapshot, and a distilled knowledge entry. Each write is
// independent and best-effort.
func (o *Orchestrator) learn(ctx context.Context, req AskRequest, queryVec []float32, answer, intent, agentName string, confidence float64) {
	if o.answerCache != nil && o.answerCache.Enabled() {
		if _, err := o.answerCache.Store(ctx, req.Query, queryVec, cache.AnswerEntry{
			CanonicalQuery: req.Query,
			AnswerSummary:  answer,
			Agent:          agentName,
			Confidence:     confidence,
		}); err != nil {
			o.logger.Warn("Answer cache store failed", map[string]interface{}{"error": err.Error()})
		}
	}

	snapshot := fmt.Sprintf("Q: %s\nA: %s", req.Query, answer)
	if _, err := o.memories.Create(ctx, CreateMemoryInput{
		UserID:  req.UserID,
		Content: snapshot,
		Source:  models.MemoryTypeQASnapshot,
		Tier:    models.TierShort,
		Metadata: map[string]interface{}{
			"intent": intent,
			"agent":  agentName,
		},
	}); err != nil {
		o.logger.Warn("Answer snapshot store failed", map[string]interface{}{"error": err.Error()})
	}

	props := map[string]interface{}{
		"canonical_query":       req.Query,
		"answer_summary":        truncate(answer, knowledgeSummaryMax),
		"user_id":               req.UserID,
		"primary_intent":        intent,
		"extraction_confidence": confidence,
		"topic_cluster":         topicKeyword(req.Query),
		"created_at":            time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := o.vectors.Insert(ctx, vector.Knowledge, queryVec, props); err != nil {
		o.logger.Warn("Knowledge extraction store failed", map[string]interface{}{"error": err.Error()})
	}
	o.audit.LogTransform(ctx, "knowledge_extraction", 1, models.ClassificationInternal, map[string]interface{}{
		"intent": intent,
	})
}

func (o *Orchestrator) finalize(ctx context.Context, metrics *models.QueryMetrics) {
	if err := o.metricsRepo.Finalize(ctx, metrics); err != nil {
		o.logger.Warn("Query metrics finalize failed", map[string]interface{}{
			"query_id": metrics.QueryID,
			"error":    err.Error(),
		})
	}
}

var topicStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"how": true, "why": true, "do": true, "does": true, "did": true,
	"can": true, "could": true, "would": true, "should": true, "my": true,
	"me": true, "i": true, "you": true, "we": true, "about": true, "tell": true,
	"of": true, "in": true, "on": true, "for": true, "to": true, "and": true,
}

// topicKeyword picks the first meaningful token of a query as its
// cluster key. Deterministic so repeat questions land in one cluster.
func topicKeyword(query string) string {
	for _, field := range strings.Fields(strings.ToLower(query)) {
		word := strings.Trim(field, ".,!?;:'\"()")
		if len(word) < 3 || topicStopwords[word] {
			continue
		}
		return word
	}
	return "general"
}

// tracer collects per-stage timings for the pipeline trace.
type tracer struct {
	start   time.Time
	last    time.Time
	entries []models.PipelineStep
}

func newTracer() *tracer {
	now := time.Now()
	return &tracer{start: now, last: now}
}

func (t *tracer) step(stage, detail string) {
	now := time.Now()
	t.entries = append(t.entries, models.PipelineStep{
		Stage:      stage,
		DurationMs: now.Sub(t.last).Milliseconds(),
		Detail:     detail,
	})
	t.last = now
}

func (t *tracer) steps() []models.PipelineStep {
	return t.entries
}
