package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// QueryAPI serves one-shot questions through the answer pipeline.
type QueryAPI struct {
	orchestrator Querier
	logger       observability.Logger
}

// NewQueryAPI creates the query endpoint.
func NewQueryAPI(orchestrator Querier, logger observability.Logger) *QueryAPI {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &QueryAPI{orchestrator: orchestrator, logger: logger}
}

// RegisterRoutes mounts the query endpoint on the versioned group.
func (a *QueryAPI) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/query", a.ask)
}

type askRequest struct {
	Question        string                `json:"question"`
	ContextLimit    int                   `json:"context_limit"`
	PrivacyFilter   []models.PrivacyLevel `json:"privacy_filter"`
	ConversationID  string                `json:"conversation_id"`
	ClientMessageID string                `json:"client_message_id"`
	Agent           string                `json:"agent"`
	BypassCache     bool                  `json:"bypass_cache"`
	FileContext     string                `json:"file_context"`
	CrossSource     bool                  `json:"cross_source_enabled"`
}

func (a *QueryAPI) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ask := services.AskRequest{
		Query:           req.Question,
		UserID:          c.GetString(ctxUserID),
		TenantID:        c.GetString(ctxTenantID),
		ConversationID:  req.ConversationID,
		ClientMessageID: req.ClientMessageID,
		ManualAgent:     req.Agent,
		BypassCache:     req.BypassCache,
		ContextLimit:    req.ContextLimit,
		FileContext:     req.FileContext,
		CrossSource:     req.CrossSource,
		PrivacyFilter:   req.PrivacyFilter,
	}
	// The public role only ever searches public memories, whatever the
	// request asked for.
	if c.GetString(ctxRole) == string(models.RolePublic) {
		ask.PrivacyFilter = []models.PrivacyLevel{models.PrivacyPublic}
	}

	resp, err := a.orchestrator.Ask(c.Request.Context(), ask)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
