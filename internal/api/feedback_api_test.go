package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

func TestFeedbackEndpoint(t *testing.T) {
	t.Run("RecordsAndReturnsTheUpdatedSummary", func(t *testing.T) {
		f := newTestServer(t, nil)
		f.feedback.summary = &models.FeedbackSummary{
			TotalRatings: 3,
			AvgRating:    4.33,
			ThumbsUp:     2,
		}

		rec := f.do(t, http.MethodPost, "/api/v1/feedback", f.memberToken(t), map[string]interface{}{
			"query_id":      "query-1",
			"rating":        5,
			"feedback_type": "thumbs_up",
			"comment":       "nailed it",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "recorded", body["status"])
		assert.Equal(t, "feedback-1", body["feedback_id"])

		summary := body["updated_summary"].(map[string]interface{})
		assert.EqualValues(t, 3, summary["total_ratings"])
		assert.InDelta(t, 4.33, summary["avg_rating"], 1e-9)

		assert.Equal(t, "user-1", f.feedback.lastInput.UserID, "identity comes from the token")
		assert.Equal(t, "query-1", f.feedback.lastInput.QueryID)
	})

	t.Run("UnknownQueryIs404", func(t *testing.T) {
		f := newTestServer(t, nil)
		f.feedback.submitErr = database.ErrNotFound

		rec := f.do(t, http.MethodPost, "/api/v1/feedback", f.memberToken(t), map[string]interface{}{
			"query_id": "query-gone",
			"rating":   4,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("OutOfRangeRatingIsUnprocessable", func(t *testing.T) {
		f := newTestServer(t, nil)

		rec := f.do(t, http.MethodPost, "/api/v1/feedback", f.memberToken(t), map[string]interface{}{
			"query_id": "query-1",
			"rating":   9,
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decodeBody(t, rec)
		assert.Contains(t, body["error"], "rating")
	})

	t.Run("MissingQueryIDIsUnprocessable", func(t *testing.T) {
		f := newTestServer(t, nil)

		rec := f.do(t, http.MethodPost, "/api/v1/feedback", f.memberToken(t), map[string]interface{}{
			"rating": 4,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("SummaryFailureStillRecords", func(t *testing.T) {
		f := newTestServer(t, nil)
		f.feedback.summaryErr = errors.New("aggregation offline")

		rec := f.do(t, http.MethodPost, "/api/v1/feedback", f.memberToken(t), map[string]interface{}{
			"query_id": "query-1",
			"rating":   2,
		})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "recorded", body["status"])
		assert.Nil(t, body["updated_summary"])
	})
}
