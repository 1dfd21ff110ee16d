// Package models defines the core entities shared across the recall
// services: memory items, conversations, query metrics, feedback,
// audit events, and the closed enums that tag them.
package models

import (
	"time"

	"github.com/lib/pq"
)

// PrivacyLevel classifies how far a memory item may travel.
type PrivacyLevel string

const (
	// PrivacyLocalOnly marks content that must never leave the local
	// process boundary. It is excluded from every external agent call.
	PrivacyLocalOnly PrivacyLevel = "LOCAL_ONLY"
	// PrivacyConfidential marks sensitive personal or business content.
	PrivacyConfidential PrivacyLevel = "CONFIDENTIAL"
	// PrivacyInternal is the default for unclassified content.
	PrivacyInternal PrivacyLevel = "INTERNAL"
	// PrivacyPublic marks content safe for any destination.
	PrivacyPublic PrivacyLevel = "PUBLIC"
)

// Valid reports whether the level is one of the four known values.
func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyLocalOnly, PrivacyConfidential, PrivacyInternal, PrivacyPublic:
		return true
	}
	return false
}

// MemoryTier is the durability/importance class for a memory item.
type MemoryTier string

const (
	TierShort MemoryTier = "SHORT"
	TierMid   MemoryTier = "MID"
	TierLong  MemoryTier = "LONG"
)

// Valid reports whether the tier is one of the known values.
func (t MemoryTier) Valid() bool {
	switch t {
	case TierShort, TierMid, TierLong:
		return true
	}
	return false
}

// MemoryType identifies where an item entered the system.
type MemoryType string

const (
	MemoryTypeManual     MemoryType = "manual"
	MemoryTypeChat       MemoryType = "chat"
	MemoryTypeEmail      MemoryType = "email"
	MemoryTypeDocument   MemoryType = "document"
	MemoryTypeQASnapshot MemoryType = "qa_snapshot"
)

// FeedbackSummary is the denormalized rating rollup stored on a memory item.
type FeedbackSummary struct {
	TotalRatings int     `json:"total_ratings"`
	AvgRating    float64 `json:"avg_rating"`
	ThumbsUp     int     `json:"thumbs_up"`
	ThumbsDown   int     `json:"thumbs_down"`
	Regenerates  int     `json:"regenerates"`
}

// MemoryItem is one unit of recall. The relational row is canonical;
// the associated vector object is subordinate and rebuildable.
type MemoryItem struct {
	ID                string                 `json:"memory_id" db:"memory_id"`
	UserID            string                 `json:"user_id" db:"user_id"`
	Content           string                 `json:"content" db:"content"`
	ContentHash       string                 `json:"content_hash" db:"content_hash"`
	EncryptedContent  string                 `json:"-" db:"encrypted_content"`
	EmbeddingVectorID string                 `json:"embedding_vector_id,omitempty" db:"embedding_vector_id"`
	Tier              MemoryTier             `json:"tier" db:"tier"`
	Phase             string                 `json:"phase,omitempty" db:"phase"`
	Tags              pq.StringArray         `json:"tags" db:"tags"`
	PrivacyLevel      PrivacyLevel           `json:"privacy_level" db:"privacy_level"`
	CRSScore          float64                `json:"crs_score" db:"crs_score"`
	AccessCount       int                    `json:"access_count" db:"access_count"`
	LastAccessed      *time.Time             `json:"last_accessed,omitempty" db:"last_accessed"`
	CreatedAt         time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at" db:"updated_at"`
	Metadata          map[string]interface{} `json:"metadata,omitempty" db:"-"`
	FeedbackSummary   *FeedbackSummary       `json:"feedback_summary,omitempty" db:"-"`
	ConfidenceScore   float64                `json:"confidence_score" db:"confidence_score"`
	Flagged           bool                   `json:"flagged" db:"flagged"`
	FlaggedReason     string                 `json:"flagged_reason,omitempty" db:"flagged_reason"`
}
