package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/observability"
)

// FeedbackAPI records ratings against answered queries.
type FeedbackAPI struct {
	feedback FeedbackStore
	logger   observability.Logger
}

// NewFeedbackAPI creates the feedback endpoint.
func NewFeedbackAPI(feedback FeedbackStore, logger observability.Logger) *FeedbackAPI {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &FeedbackAPI{feedback: feedback, logger: logger}
}

// RegisterRoutes mounts the feedback endpoint.
func (a *FeedbackAPI) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/feedback", a.submit)
}

func (a *FeedbackAPI) submit(c *gin.Context) {
	var input services.SubmitFeedbackInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	input.UserID = c.GetString(ctxUserID)

	row, err := a.feedback.Submit(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}

	summary, err := a.feedback.QuerySummary(c.Request.Context(), input.QueryID)
	if err != nil {
		a.logger.Warn("Feedback summary unavailable", map[string]interface{}{
			"query_id": input.QueryID,
			"error":    err.Error(),
		})
		summary = nil
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "recorded",
		"feedback_id":     row.ID,
		"updated_summary": summary,
	})
}
