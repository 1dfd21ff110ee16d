package repository

import (
	"database/sql/driver"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// jsonText carries JSON to and from jsonb columns as text. lib/pq
// encodes a raw []byte parameter as bytea, which jsonb rejects.
type jsonText []byte

// Value implements driver.Valuer. Empty payloads become NULL.
func (j jsonText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *jsonText) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into jsonb text", src)
	}
	return nil
}

// Repositories bundles every repository over one connection pool, for
// wiring at startup.
type Repositories struct {
	Users         UserRepository
	Memories      MemoryRepository
	Conversations ConversationRepository
	Feedback      FeedbackRepository
	QueryMetrics  QueryMetricsRepository
	Audit         AuditRepository
	OAuthTokens   OAuthTokenRepository
	TuningLog     TuningLogRepository
}

// New builds the full repository set over db.
func New(db *sqlx.DB) *Repositories {
	return &Repositories{
		Users:         NewUserRepository(db),
		Memories:      NewMemoryRepository(db),
		Conversations: NewConversationRepository(db),
		Feedback:      NewFeedbackRepository(db),
		QueryMetrics:  NewQueryMetricsRepository(db),
		Audit:         NewAuditRepository(db),
		OAuthTokens:   NewOAuthTokenRepository(db),
		TuningLog:     NewTuningLogRepository(db),
	}
}
