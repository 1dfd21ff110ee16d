package models

import "time"

// FeedbackType is the kind of signal a user attached to an answer.
type FeedbackType string

const (
	FeedbackThumbsUp   FeedbackType = "thumbs_up"
	FeedbackThumbsDown FeedbackType = "thumbs_down"
	FeedbackRegenerate FeedbackType = "regenerate"
)

// Valid reports whether the feedback type is one of the known values.
func (f FeedbackType) Valid() bool {
	switch f {
	case FeedbackThumbsUp, FeedbackThumbsDown, FeedbackRegenerate:
		return true
	}
	return false
}

// Feedback is one user signal about one answered query. Rows are
// monotonically appended and never mutated.
type Feedback struct {
	ID             string         `json:"feedback_id" db:"feedback_id"`
	QueryID        string         `json:"query_id" db:"query_id"`
	UserID         string         `json:"user_id" db:"user_id"`
	Rating         int            `json:"rating" db:"rating"`
	FeedbackType   FeedbackType   `json:"feedback_type" db:"feedback_type"`
	ResponseSource ResponseSource `json:"response_source" db:"response_source"`
	Comment        string         `json:"comment,omitempty" db:"comment"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}
