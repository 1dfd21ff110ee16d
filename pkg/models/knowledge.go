package models

import "time"

// KnowledgeEntry is a distilled fact extracted from a validated answer.
// Entries live in the Knowledge vector collection and are created only
// by compaction and explicit extraction.
type KnowledgeEntry struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	CanonicalQuery       string    `json:"canonical_query"`
	AnswerSummary        string    `json:"answer_summary"`
	TopicCluster         string    `json:"topic_cluster"`
	PrimaryIntent        string    `json:"primary_intent"`
	RelatedTopics        []string  `json:"related_topics,omitempty"`
	ExtractionConfidence float64   `json:"extraction_confidence"`
	CreatedAt            time.Time `json:"created_at"`
}

// TopicSummary is a level-3 synthesis across a cluster of knowledge entries.
type TopicSummary struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Topic          string            `json:"topic"`
	Summary        string            `json:"summary"`
	EntityMap      map[string]string `json:"entity_map,omitempty"`
	KnowledgeGaps  []string          `json:"knowledge_gaps,omitempty"`
	KnowledgeDepth int               `json:"knowledge_depth"`
	SourceEntryIDs []string          `json:"source_entry_ids"`
	CreatedAt      time.Time         `json:"created_at"`
}

// DomainMap is a level-4 cross-topic synthesis for one user.
type DomainMap struct {
	ID                      string    `json:"id"`
	UserID                  string    `json:"user_id"`
	DomainName              string    `json:"domain_name"`
	Topology                string    `json:"topology"`
	CrossTopicRelationships []string  `json:"cross_topic_relationships,omitempty"`
	Strengths               []string  `json:"strengths,omitempty"`
	Gaps                    []string  `json:"gaps,omitempty"`
	EmergingThemes          []string  `json:"emerging_themes,omitempty"`
	TopicCount              int       `json:"topic_count"`
	CreatedAt               time.Time `json:"created_at"`
}

// Insight is a cross-source derived fact (email, calendar, financial, chat).
type Insight struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	SourceType string    `json:"source_type"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}
