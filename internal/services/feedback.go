package services

import (
	"context"
	"fmt"

	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// SubmitFeedbackInput is one feedback signal on an answered query.
type SubmitFeedbackInput struct {
	QueryID      string              `json:"query_id"`
	UserID       string              `json:"-"`
	Rating       int                 `json:"rating"`
	FeedbackType models.FeedbackType `json:"feedback_type"`
	Comment      string              `json:"comment,omitempty"`
}

// FeedbackService records feedback and folds it back onto the memory
// items that produced the answer.
type FeedbackService struct {
	feedback    repository.FeedbackRepository
	metricsRepo repository.QueryMetricsRepository
	memories    repository.MemoryRepository
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// NewFeedbackService creates the feedback service.
func NewFeedbackService(feedback repository.FeedbackRepository, metricsRepo repository.QueryMetricsRepository, memories repository.MemoryRepository, logger observability.Logger, metrics observability.MetricsClient) *FeedbackService {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &FeedbackService{
		feedback:    feedback,
		metricsRepo: metricsRepo,
		memories:    memories,
		logger:      logger,
		metrics:     metrics,
	}
}

// Submit validates and stores one feedback row, then recomputes the
// rating rollup on every memory the answered query used. The rollup is
// computed from all stored feedback, not incrementally, so replays and
// late arrivals converge.
func (s *FeedbackService) Submit(ctx context.Context, input SubmitFeedbackInput) (*models.Feedback, error) {
	if input.QueryID == "" {
		return nil, fmt.Errorf("%w: query_id is required", ErrValidation)
	}
	if input.Rating < 1 || input.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}
	if input.FeedbackType != "" && !input.FeedbackType.Valid() {
		return nil, fmt.Errorf("%w: unknown feedback type %q", ErrValidation, input.FeedbackType)
	}

	// The query row must exist; its response source is copied onto the
	// feedback so cache quality can be judged later without a join.
	query, err := s.metricsRepo.GetByID(ctx, input.QueryID)
	if err != nil {
		return nil, err
	}

	row := &models.Feedback{
		QueryID:        input.QueryID,
		UserID:         input.UserID,
		Rating:         input.Rating,
		FeedbackType:   input.FeedbackType,
		ResponseSource: query.ResponseSource,
		Comment:        input.Comment,
	}
	if err := s.feedback.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store feedback: %w", err)
	}

	for _, memoryID := range query.MemoriesUsed {
		s.refreshSummary(ctx, memoryID)
	}

	if s.metrics != nil {
		s.metrics.IncrementCounterWithLabels("feedback_total", 1, map[string]string{
			"source": string(query.ResponseSource),
		})
		s.metrics.RecordGauge("feedback_rating", float64(input.Rating), map[string]string{
			"source": string(query.ResponseSource),
		})
	}
	return row, nil
}

// ListByQuery returns all feedback attached to one query.
func (s *FeedbackService) ListByQuery(ctx context.Context, queryID string) ([]*models.Feedback, error) {
	return s.feedback.ListByQuery(ctx, queryID)
}

// QuerySummary aggregates every feedback row recorded against one query.
func (s *FeedbackService) QuerySummary(ctx context.Context, queryID string) (*models.FeedbackSummary, error) {
	rows, err := s.feedback.ListByQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	return summarizeFeedback(rows), nil
}

// refreshSummary rebuilds one memory's rating rollup from every linked
// feedback row. Failures are logged and skipped; the next signal
// repairs the rollup.
func (s *FeedbackService) refreshSummary(ctx context.Context, memoryID string) {
	rows, err := s.feedback.ListForMemory(ctx, memoryID)
	if err != nil {
		s.logger.Warn("Feedback rollup read failed", map[string]interface{}{
			"memory_id": memoryID,
			"error":     err.Error(),
		})
		return
	}
	if len(rows) == 0 {
		return
	}
	summary := summarizeFeedback(rows)
	if err := s.memories.UpdateFeedbackSummary(ctx, memoryID, summary); err != nil {
		s.logger.Warn("Feedback rollup write failed", map[string]interface{}{
			"memory_id": memoryID,
			"error":     err.Error(),
		})
	}
}

func summarizeFeedback(rows []*models.Feedback) *models.FeedbackSummary {
	summary := &models.FeedbackSummary{}
	total := 0
	for _, row := range rows {
		summary.TotalRatings++
		total += row.Rating
		switch row.FeedbackType {
		case models.FeedbackThumbsUp:
			summary.ThumbsUp++
		case models.FeedbackThumbsDown:
			summary.ThumbsDown++
		case models.FeedbackRegenerate:
			summary.Regenerates++
		}
	}
	if summary.TotalRatings > 0 {
		summary.AvgRating = float64(total) / float64(summary.TotalRatings)
	}
	return summary
}
