package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

// ModelRating is the aggregated feedback quality for one agent model.
type ModelRating struct {
	Model      string  `db:"agent_used"`
	AvgRating  float64 `db:"avg_rating"`
	SampleSize int     `db:"sample_size"`
}

// FeedbackRepository manages query_feedback rows and the aggregate
// views the auto-tuner reads. Feedback is append-only.
type FeedbackRepository interface {
	Create(ctx context.Context, feedback *models.Feedback) error
	ListByQuery(ctx context.Context, queryID string) ([]*models.Feedback, error)
	// ListForMemory returns every feedback row whose query used the
	// given memory item, joined through query_metrics.memories_used.
	ListForMemory(ctx context.Context, memoryID string) ([]*models.Feedback, error)

	// CacheQualityStats aggregates ratings on cache-sourced answers
	// since the cutoff.
	CacheQualityStats(ctx context.Context, since time.Time) (avg float64, n int, err error)
	// ModelRatingStats aggregates ratings per answering model since the
	// cutoff, best-rated first.
	ModelRatingStats(ctx context.Context, since time.Time) ([]ModelRating, error)
	ListCommentsSince(ctx context.Context, since time.Time) ([]string, error)
}

type feedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository creates a postgres-backed FeedbackRepository.
func NewFeedbackRepository(db *sqlx.DB) FeedbackRepository {
	return &feedbackRepository{db: db}
}

func (r *feedbackRepository) Create(ctx context.Context, feedback *models.Feedback) error {
	if feedback.ID == "" {
		feedback.ID = uuid.New().String()
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO query_feedback (
			feedback_id, query_id, user_id, rating, feedback_type,
			response_source, comment, created_at
		) VALUES (
			:feedback_id, :query_id, :user_id, :rating, :feedback_type,
			:response_source, :comment, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, feedback); err != nil {
		if database.IsUniqueViolation(err, "") {
			return database.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create feedback: %w", err)
	}
	return nil
}

const feedbackColumns = `feedback_id, query_id, user_id, rating, feedback_type,
	response_source, comment, created_at`

func (r *feedbackRepository) ListByQuery(ctx context.Context, queryID string) ([]*models.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM query_feedback WHERE query_id = $1 ORDER BY created_at`

	var rows []*models.Feedback
	if err := r.db.SelectContext(ctx, &rows, query, queryID); err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return rows, nil
}

func (r *feedbackRepository) ListForMemory(ctx context.Context, memoryID string) ([]*models.Feedback, error) {
	query := `
		SELECT f.feedback_id, f.query_id, f.user_id, f.rating, f.feedback_type,
		       f.response_source, f.comment, f.created_at
		FROM query_feedback f
		JOIN query_metrics qm ON f.query_id = qm.query_id
		WHERE $1 = ANY(qm.memories_used)
		ORDER BY f.created_at`

	var rows []*models.Feedback
	if err := r.db.SelectContext(ctx, &rows, query, memoryID); err != nil {
		return nil, fmt.Errorf("failed to list feedback for memory: %w", err)
	}
	return rows, nil
}

func (r *feedbackRepository) CacheQualityStats(ctx context.Context, since time.Time) (float64, int, error) {
	query := `
		SELECT COALESCE(AVG(rating), 0) AS avg_rating, COUNT(*) AS sample_size
		FROM query_feedback
		WHERE response_source IN ($1, $2) AND created_at >= $3`

	var stats struct {
		AvgRating  float64 `db:"avg_rating"`
		SampleSize int     `db:"sample_size"`
	}
	err := r.db.GetContext(ctx, &stats, query,
		models.ResponseSourceSemanticCache, models.ResponseSourceExactCache, since.UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate cache quality: %w", err)
	}
	return stats.AvgRating, stats.SampleSize, nil
}

func (r *feedbackRepository) ModelRatingStats(ctx context.Context, since time.Time) ([]ModelRating, error) {
	query := `
		SELECT qm.agent_used, AVG(f.rating) AS avg_rating, COUNT(*) AS sample_size
		FROM query_feedback f
		JOIN query_metrics qm ON f.query_id = qm.query_id
		WHERE f.created_at >= $1 AND qm.agent_used <> ''
		GROUP BY qm.agent_used
		ORDER BY avg_rating DESC`

	var ratings []ModelRating
	if err := r.db.SelectContext(ctx, &ratings, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to aggregate model ratings: %w", err)
	}
	return ratings, nil
}

func (r *feedbackRepository) ListCommentsSince(ctx context.Context, since time.Time) ([]string, error) {
	query := `
		SELECT comment FROM query_feedback
		WHERE comment <> '' AND created_at >= $1
		ORDER BY created_at`

	var comments []string
	if err := r.db.SelectContext(ctx, &comments, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list feedback comments: %w", err)
	}
	return comments, nil
}
