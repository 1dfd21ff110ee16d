package models

import "time"

// IngestEvent is one inbound item from an external source (chat export,
// email, document). Events arrive over SQS or the ingest webhook and
// are written through the memory pipeline.
type IngestEvent struct {
	EventID    string                 `json:"event_id"`
	Source     string                 `json:"source"`
	UserID     string                 `json:"user_id"`
	TenantID   string                 `json:"tenant_id"`
	Content    string                 `json:"content"`
	Tags       []string               `json:"tags,omitempty"`
	Tier       MemoryTier             `json:"tier,omitempty"`
	Phase      string                 `json:"phase,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
