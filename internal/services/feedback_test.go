package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

func newFeedbackFixture(t *testing.T) (*FeedbackService, *fakeFeedbackRepo, *fakeMetricsRepo, *fakeMemoryRepo) {
	t.Helper()
	feedback := newFakeFeedbackRepo()
	metricsRepo := newFakeMetricsRepo()
	memories := newFakeMemoryRepo()
	svc := NewFeedbackService(feedback, metricsRepo, memories, nil, nil)
	return svc, feedback, metricsRepo, memories
}

func seedQuery(t *testing.T, metricsRepo *fakeMetricsRepo, queryID string, source models.ResponseSource, memoriesUsed ...string) {
	t.Helper()
	err := metricsRepo.Create(context.Background(), &models.QueryMetrics{
		QueryID:        queryID,
		UserID:         "user-1",
		ResponseSource: source,
		MemoriesUsed:   memoriesUsed,
	})
	require.NoError(t, err)
}

func TestFeedbackSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("StoresRowWithResponseSource", func(t *testing.T) {
		svc, _, metricsRepo, _ := newFeedbackFixture(t)
		seedQuery(t, metricsRepo, "q-1", models.ResponseSourceSemanticCache)

		row, err := svc.Submit(ctx, SubmitFeedbackInput{
			QueryID:      "q-1",
			UserID:       "user-1",
			Rating:       4,
			FeedbackType: models.FeedbackThumbsUp,
			Comment:      "good recall",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, row.ID)
		assert.Equal(t, models.ResponseSourceSemanticCache, row.ResponseSource,
			"the query's source is copied so cache quality can be judged without a join")

		listed, err := svc.ListByQuery(ctx, "q-1")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, "good recall", listed[0].Comment)
	})

	t.Run("UnknownQueryReadsAsMissing", func(t *testing.T) {
		svc, _, _, _ := newFeedbackFixture(t)
		_, err := svc.Submit(ctx, SubmitFeedbackInput{QueryID: "q-ghost", UserID: "user-1", Rating: 3})
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("ValidatesInput", func(t *testing.T) {
		svc, _, metricsRepo, _ := newFeedbackFixture(t)
		seedQuery(t, metricsRepo, "q-1", models.ResponseSourceFresh)

		_, err := svc.Submit(ctx, SubmitFeedbackInput{UserID: "user-1", Rating: 3})
		assert.ErrorIs(t, err, ErrValidation)

		_, err = svc.Submit(ctx, SubmitFeedbackInput{QueryID: "q-1", UserID: "user-1", Rating: 0})
		assert.ErrorIs(t, err, ErrValidation)

		_, err = svc.Submit(ctx, SubmitFeedbackInput{QueryID: "q-1", UserID: "user-1", Rating: 6})
		assert.ErrorIs(t, err, ErrValidation)

		_, err = svc.Submit(ctx, SubmitFeedbackInput{QueryID: "q-1", UserID: "user-1", Rating: 3, FeedbackType: "meh"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("RollupRecomputesFromAllRows", func(t *testing.T) {
		svc, feedback, metricsRepo, memories := newFeedbackFixture(t)
		seedQuery(t, metricsRepo, "q-1", models.ResponseSourceFresh, "mem-1", "mem-2")
		feedback.memoryLinks["q-1"] = []string{"mem-1", "mem-2"}

		_, err := svc.Submit(ctx, SubmitFeedbackInput{QueryID: "q-1", UserID: "user-1", Rating: 5, FeedbackType: models.FeedbackThumbsUp})
		require.NoError(t, err)

		first := memories.summaries["mem-1"]
		require.NotNil(t, first)
		assert.Equal(t, 1, first.TotalRatings)
		assert.InDelta(t, 5.0, first.AvgRating, 1e-9)
		assert.Equal(t, 1, first.ThumbsUp)

		_, err = svc.Submit(ctx, SubmitFeedbackInput{QueryID: "q-1", UserID: "user-1", Rating: 3, FeedbackType: models.FeedbackThumbsDown})
		require.NoError(t, err)

		second := memories.summaries["mem-1"]
		require.NotNil(t, second)
		assert.Equal(t, 2, second.TotalRatings)
		assert.InDelta(t, 4.0, second.AvgRating, 1e-9)
		assert.Equal(t, 1, second.ThumbsUp)
		assert.Equal(t, 1, second.ThumbsDown)

		assert.NotNil(t, memories.summaries["mem-2"], "every memory the answer used gets the rollup")
	})

	t.Run("QueryWithoutMemoriesSkipsRollups", func(t *testing.T) {
		svc, _, metricsRepo, memories := newFeedbackFixture(t)
		seedQuery(t, metricsRepo, "q-1", models.ResponseSourceFresh)

		_, err := svc.Submit(ctx, SubmitFeedbackInput{QueryID: "q-1", UserID: "user-1", Rating: 2})
		require.NoError(t, err)
		assert.Empty(t, memories.summaries)
	})
}

func TestSummarizeFeedback(t *testing.T) {
	rows := []*models.Feedback{
		{Rating: 5, FeedbackType: models.FeedbackThumbsUp},
		{Rating: 4, FeedbackType: models.FeedbackThumbsUp},
		{Rating: 1, FeedbackType: models.FeedbackThumbsDown},
		{Rating: 2, FeedbackType: models.FeedbackRegenerate},
	}
	summary := summarizeFeedback(rows)
	assert.Equal(t, 4, summary.TotalRatings)
	assert.InDelta(t, 3.0, summary.AvgRating, 1e-9)
	assert.Equal(t, 2, summary.ThumbsUp)
	assert.Equal(t, 1, summary.ThumbsDown)
	assert.Equal(t, 1, summary.Regenerates)
}
