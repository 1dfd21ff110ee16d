package models

import "time"

// MessageRole identifies who authored a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether the role is one of the known values.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ConversationState is the rolling state bag carried on a conversation.
// The summary is regenerated after every SummaryThreshold new turns.
type ConversationState struct {
	Summary           string            `json:"summary,omitempty"`
	Entities          map[string]string `json:"entities,omitempty"`
	TopicStack        []string          `json:"topic_stack,omitempty"`
	LastIntent        string            `json:"last_intent,omitempty"`
	SummaryVersion    int               `json:"summary_version"`
	TurnsSinceSummary int               `json:"turns_since_summary"`
}

// Conversation is an ordered sequence of messages plus rolling state.
type Conversation struct {
	ID        string            `json:"conversation_id" db:"conversation_id"`
	TenantID  string            `json:"tenant_id" db:"tenant_id"`
	UserID    string            `json:"user_id" db:"user_id"`
	Agent     string            `json:"agent" db:"agent"`
	Title     string            `json:"title,omitempty" db:"title"`
	State     ConversationState `json:"state" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// Message is one turn in a conversation. ClientMessageID makes retried
// appends idempotent within (tenant, conversation).
type Message struct {
	ID              string                 `json:"message_id" db:"message_id"`
	TenantID        string                 `json:"tenant_id" db:"tenant_id"`
	ConversationID  string                 `json:"conversation_id" db:"conversation_id"`
	ClientMessageID string                 `json:"client_message_id,omitempty" db:"client_message_id"`
	Role            MessageRole            `json:"role" db:"role"`
	Content         string                 `json:"content" db:"content"`
	TokenCount      int                    `json:"token_count" db:"token_count"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
}

// ConversationContext is what the orchestrator loads before answering:
// the rolling summary plus the chronological tail of recent turns.
type ConversationContext struct {
	Summary     string            `json:"summary,omitempty"`
	Entities    map[string]string `json:"entities,omitempty"`
	TopicStack  []string          `json:"topic_stack,omitempty"`
	RecentTurns []Message         `json:"recent_turns"`
	TurnCount   int               `json:"turn_count"`
}
