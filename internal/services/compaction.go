package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/vector"
)

// CompactionConfig bounds one synthesis run.
type CompactionConfig struct {
	// MinEntriesForTopic is the smallest cluster worth synthesizing.
	MinEntriesForTopic int
	// MinTopicsForDomain is the smallest topic set worth mapping.
	MinTopicsForDomain int
	// SynthesisBudgetUSD caps model spend per run; the run halts once
	// the budget is spent.
	SynthesisBudgetUSD float64
	// MaxEntriesPerCluster bounds how many entries feed one synthesis
	// prompt.
	MaxEntriesPerCluster int
	// MaxContentChars truncates each entry's contribution to the prompt.
	MaxContentChars int
}

// DefaultCompactionConfig returns the production bounds.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		MinEntriesForTopic:   3,
		MinTopicsForDomain:   2,
		SynthesisBudgetUSD:   0.50,
		MaxEntriesPerCluster: 25,
		MaxContentChars:      400,
	}
}

// CompactionStats reports what one run did.
type CompactionStats struct {
	UsersProcessed  int     `json:"users_processed"`
	EntriesExamined int     `json:"entries_examined"`
	TopicsCreated   int     `json:"topics_created"`
	DomainsCreated  int     `json:"domains_created"`
	ClustersSkipped int     `json:"clusters_skipped"`
	Errors          int     `json:"errors"`
	SpentUSD        float64 `json:"spent_usd"`
	BudgetHalted    bool    `json:"budget_halted"`
}

// topicSchema validates the model's topic synthesis output before it is
// stored. Malformed output is dropped, never stored partially.
const topicSchema = `{
	"type": "object",
	"required": ["summary", "entity_map", "knowledge_gaps"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"entity_map": {"type": "object"},
		"knowledge_gaps": {"type": "array", "items": {"type": "string"}}
	}
}`

const domainSchema = `{
	"type": "object",
	"required": ["domain_name", "topology"],
	"properties": {
		"domain_name": {"type": "string", "minLength": 1},
		"topology": {"type": "string"},
		"cross_topic_relationships": {"type": "array"},
		"strengths": {"type": "array"},
		"gaps": {"type": "array"},
		"emerging_themes": {"type": "array"}
	}
}`

// Compactor distills knowledge entries into topic summaries and topic
// summaries into domain maps.
type Compactor struct {
	config   CompactionConfig
	users    repository.UserRepository
	vectors  vector.Store
	embedder embedding.Client
	registry *agents.Registry
	audit    audit.Recorder
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewCompactor creates the compaction service.
func NewCompactor(config CompactionConfig, users repository.UserRepository, vectors vector.Store, embedder embedding.Client, registry *agents.Registry, recorder audit.Recorder, logger observability.Logger, metrics observability.MetricsClient) *Compactor {
	if config.MinEntriesForTopic <= 0 {
		config = DefaultCompactionConfig()
	}
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Compactor{
		config:   config,
		users:    users,
		vectors:  vectors,
		embedder: embedder,
		registry: registry,
		audit:    recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// RunTopics compacts knowledge entries into topics for every active
// user. Per-user failures are counted and skipped.
func (c *Compactor) RunTopics(ctx context.Context) (*CompactionStats, error) {
	return c.runForUsers(ctx, c.CompactTopics)
}

// RunDomains maps topics into domains for every active user.
func (c *Compactor) RunDomains(ctx context.Context) (*CompactionStats, error) {
	return c.runForUsers(ctx, c.CompactDomains)
}

func (c *Compactor) runForUsers(ctx context.Context, compact func(context.Context, string) (*CompactionStats, error)) (*CompactionStats, error) {
	users, err := c.users.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users for compaction: %w", err)
	}
	total := &CompactionStats{}
	for _, user := range users {
		stats, err := compact(ctx, user.ID)
		if err != nil {
			c.logger.Warn("Compaction failed for user", map[string]interface{}{
				"user_id": user.ID,
				"error":   err.Error(),
			})
			total.Errors++
			continue
		}
		total.UsersProcessed++
		total.EntriesExamined += stats.EntriesExamined
		total.TopicsCreated += stats.TopicsCreated
		total.DomainsCreated += stats.DomainsCreated
		total.ClustersSkipped += stats.ClustersSkipped
		total.Errors += stats.Errors
		total.SpentUSD += stats.SpentUSD
		total.BudgetHalted = total.BudgetHalted || stats.BudgetHalted
	}
	return total, nil
}

// CompactTopics clusters one user's knowledge entries by topic and
// synthesizes a topic summary per cluster. Clusters are processed in
// deterministic order; the run halts cleanly at the spend budget.
func (c *Compactor) CompactTopics(ctx context.Context, userID string) (*CompactionStats, error) {
	stats := &CompactionStats{}

	entries, err := c.vectors.List(ctx, vector.Knowledge, &vector.Filter{UserID: userID}, 1000, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge entries: %w", err)
	}
	stats.EntriesExamined = len(entries)

	clusters := map[string][]*vector.Object{}
	for _, entry := range entries {
		key := propString(entry.Props, "topic_cluster")
		if key == "" {
			key = "general"
		}
		clusters[key] = append(clusters[key], entry)
	}

	keys := make([]string, 0, len(clusters))
	for key, members := range clusters {
		if len(members) < c.config.MinEntriesForTopic {
			stats.ClustersSkipped++
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if stats.SpentUSD >= c.config.SynthesisBudgetUSD {
			stats.BudgetHalted = true
			c.logger.Warn("Compaction halted at spend budget", map[string]interface{}{
				"user_id":    userID,
				"spent_usd":  stats.SpentUSD,
				"budget_usd": c.config.SynthesisBudgetUSD,
			})
			break
		}
		cost, err := c.synthesizeTopic(ctx, userID, key, clusters[key])
		stats.SpentUSD += cost
		if err != nil {
			stats.Errors++
			c.logger.Warn("Topic synthesis failed", map[string]interface{}{
				"user_id": userID,
				"topic":   key,
				"error":   err.Error(),
			})
			continue
		}
		stats.TopicsCreated++
	}

	if stats.TopicsCreated > 0 {
		c.audit.LogTransform(ctx, "topic_compaction", stats.TopicsCreated, models.ClassificationInternal, map[string]interface{}{
			"user_id":   userID,
			"spent_usd": stats.SpentUSD,
		})
	}
	if c.metrics != nil {
		c.metrics.IncrementCounter("compaction_topics_created_total", float64(stats.TopicsCreated))
		c.metrics.RecordGauge("compaction_spend_usd", stats.SpentUSD, map[string]string{"stage": "topics"})
	}
	return stats, nil
}

func (c *Compactor) synthesizeTopic(ctx context.Context, userID, topic string, entries []*vector.Object) (float64, error) {
	if len(entries) > c.config.MaxEntriesPerCluster {
		entries = entries[:c.config.MaxEntriesPerCluster]
	}

	var b strings.Builder
	b.WriteString("Synthesize the following Q&A knowledge entries about one topic into a JSON object with keys ")
	b.WriteString(`"summary" (string), "entity_map" (object mapping entity names to descriptions), and "knowledge_gaps" (array of strings). `)
	b.WriteString("Respond with only the JSON object.\n\nEntries:\n")
	sourceIDs := make([]string, 0, len(entries))
	for i, entry := range entries {
		sourceIDs = append(sourceIDs, entry.ID.String())
		q := propString(entry.Props, "canonical_query")
		a := truncate(propString(entry.Props, "answer_summary"), c.config.MaxContentChars)
		b.WriteString(fmt.Sprintf("%d. Q: %s\n   A: %s\n", i+1, q, a))
	}

	resp, err := c.registry.Complete(ctx, c.registry.Default(), agents.Request{
		Prompt:      b.String(),
		Temperature: 0,
	})
	if err != nil {
		return 0, fmt.Errorf("synthesis call failed: %w", err)
	}

	doc, err := extractJSON(resp.Text, topicSchema)
	if err != nil {
		return resp.CostUSD, err
	}

	summary, _ := doc["summary"].(string)
	embedded, err := c.embedder.Embed(ctx, summary)
	if err != nil {
		return resp.CostUSD, fmt.Errorf("failed to embed topic summary: %w", err)
	}

	props := map[string]interface{}{
		"topic":            topic,
		"summary":          summary,
		"user_id":          userID,
		"entity_map":       doc["entity_map"],
		"knowledge_gaps":   doc["knowledge_gaps"],
		"knowledge_depth":  len(entries),
		"source_entry_ids": sourceIDs,
		"created_at":       time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := c.vectors.Insert(ctx, vector.Topics, embedded.Vector, props); err != nil {
		return resp.CostUSD, fmt.Errorf("failed to store topic: %w", err)
	}
	return resp.CostUSD, nil
}

// CompactDomains maps one user's topics into a domain overview. All
// topics feed a single synthesis call.
func (c *Compactor) CompactDomains(ctx context.Context, userID string) (*CompactionStats, error) {
	stats := &CompactionStats{}

	topics, err := c.vectors.List(ctx, vector.Topics, &vector.Filter{UserID: userID}, 200, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	stats.EntriesExamined = len(topics)
	if len(topics) < c.config.MinTopicsForDomain {
		stats.ClustersSkipped++
		return stats, nil
	}

	var b strings.Builder
	b.WriteString("Map the following topic summaries into one knowledge domain. Respond with only a JSON object with keys ")
	b.WriteString(`"domain_name" (string), "topology" (string describing how the topics relate), "cross_topic_relationships" (array), "strengths" (array), "gaps" (array), and "emerging_themes" (array).`)
	b.WriteString("\n\nTopics:\n")
	for i, topic := range topics {
		name := propString(topic.Props, "topic")
		summary := truncate(propString(topic.Props, "summary"), c.config.MaxContentChars)
		b.WriteString(fmt.Sprintf("%d. %s: %s\n", i+1, name, summary))
	}

	resp, err := c.registry.Complete(ctx, c.registry.Default(), agents.Request{
		Prompt:      b.String(),
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("domain synthesis call failed: %w", err)
	}
	stats.SpentUSD = resp.CostUSD

	doc, err := extractJSON(resp.Text, domainSchema)
	if err != nil {
		stats.Errors++
		return stats, nil
	}

	domainName, _ := doc["domain_name"].(string)
	topology, _ := doc["topology"].(string)
	summary := domainName
	if topology != "" {
		summary = fmt.Sprintf("%s: %s", domainName, topology)
	}

	embedded, err := c.embedder.Embed(ctx, summary)
	if err != nil {
		stats.Errors++
		return stats, nil
	}

	props := map[string]interface{}{
		"summary":     summary,
		"user_id":     userID,
		"topology":    topology,
		"topic_count": len(topics),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
	for _, key := range []string{"cross_topic_relationships", "strengths", "gaps", "emerging_themes"} {
		if value, ok := doc[key]; ok {
			props[key] = value
		}
	}
	if _, err := c.vectors.Insert(ctx, vector.Domains, embedded.Vector, props); err != nil {
		stats.Errors++
		return stats, nil
	}
	stats.DomainsCreated = 1

	c.audit.LogTransform(ctx, "domain_compaction", 1, models.ClassificationInternal, map[string]interface{}{
		"user_id":     userID,
		"topic_count": len(topics),
	})
	if c.metrics != nil {
		c.metrics.IncrementCounter("compaction_domains_created_total", 1)
	}
	return stats, nil
}

// extractJSON pulls the first JSON object out of a model response and
// validates it against the given schema.
func extractJSON(text, schema string) (map[string]interface{}, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("response contains no JSON object")
	}
	cleaned = cleaned[start : end+1]

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewStringLoader(cleaned),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate synthesis output: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("synthesis output rejected: %s", strings.Join(details, "; "))
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode synthesis output: %w", err)
	}
	return doc, nil
}
