package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// ConversationAPI manages threaded chats and routes new turns through
// the answer pipeline.
type ConversationAPI struct {
	conversations ConversationStore
	orchestrator  Querier
	registry      *agents.Registry
	logger        observability.Logger
}

// NewConversationAPI creates the conversation endpoints. The registry
// is optional and only used to resolve model names for responses.
func NewConversationAPI(conversations ConversationStore, orchestrator Querier, registry *agents.Registry, logger observability.Logger) *ConversationAPI {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &ConversationAPI{
		conversations: conversations,
		orchestrator:  orchestrator,
		registry:      registry,
		logger:        logger,
	}
}

// RegisterRoutes mounts the conversation endpoints.
func (a *ConversationAPI) RegisterRoutes(router *gin.RouterGroup) {
	conversations := router.Group("/conversations")
	conversations.POST("", a.create)
	conversations.GET("", a.list)
	conversations.GET("/:id", a.get)
	conversations.DELETE("/:id", a.delete)
	conversations.POST("/:id/messages", a.postMessage)
}

type createConversationRequest struct {
	Agent string `json:"agent"`
	Title string `json:"title"`
}

func (a *ConversationAPI) create(c *gin.Context) {
	var req createConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	conv, err := a.conversations.Create(c.Request.Context(), c.GetString(ctxTenantID), c.GetString(ctxUserID), req.Agent, req.Title)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// list returns conversations grouped under date buckets, newest first.
func (a *ConversationAPI) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	groups, err := a.conversations.ListGrouped(c.Request.Context(), c.GetString(ctxTenantID), c.GetString(ctxUserID), limit)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (a *ConversationAPI) get(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := c.GetString(ctxTenantID)
	user := c.GetString(ctxUserID)

	conv, err := a.conversations.Get(ctx, tenant, user, c.Param("id"))
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	messages, err := a.conversations.Messages(ctx, tenant, user, conv.ID, limit, offset)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": messages})
}

func (a *ConversationAPI) delete(c *gin.Context) {
	deleted, err := a.conversations.Delete(c.Request.Context(), c.GetString(ctxTenantID), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type postMessageRequest struct {
	Content         string `json:"content"`
	Agent           string `json:"agent"`
	ClientMessageID string `json:"client_message_id"`
	BypassCache     bool   `json:"bypass_cache"`
}

// postMessage appends a user turn, runs the full pipeline, and returns
// both stored messages plus the cost and routing metadata.
func (a *ConversationAPI) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	tenant := c.GetString(ctxTenantID)
	user := c.GetString(ctxUserID)

	// Posting into an unknown or foreign conversation is a 404, unlike
	// /query which adopts new conversation ids.
	conv, err := a.conversations.Get(ctx, tenant, user, c.Param("id"))
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}

	resp, err := a.orchestrator.Ask(ctx, services.AskRequest{
		Query:           req.Content,
		UserID:          user,
		TenantID:        tenant,
		ConversationID:  conv.ID,
		ClientMessageID: req.ClientMessageID,
		ManualAgent:     req.Agent,
		BypassCache:     req.BypassCache,
	})
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}

	userMsg, assistantMsg := a.lastTurnPair(c, conv, req.Content, resp)
	c.JSON(http.StatusOK, gin.H{
		"user_message":      userMsg,
		"assistant_message": assistantMsg,
		"metadata": gin.H{
			"query_id":      resp.QueryID,
			"agent":         resp.AgentUsed,
			"model":         a.modelFor(resp.AgentUsed),
			"cost_usd":      resp.Analytics.EstCostUSD,
			"input_tokens":  resp.Analytics.InputTokens,
			"output_tokens": resp.Analytics.OutputTokens,
			"cache_status":  resp.CacheStatus,
			"confidence":    resp.Confidence,
		},
	})
}

// lastTurnPair reloads the two turns the pipeline just appended. If the
// reload fails the messages are reconstructed from the response so the
// client still gets a usable payload.
func (a *ConversationAPI) lastTurnPair(c *gin.Context, conv *models.Conversation, content string, resp *services.AskResponse) (*models.Message, *models.Message) {
	convCtx, err := a.conversations.LoadContext(c.Request.Context(), conv, 2)
	if err == nil && len(convCtx.RecentTurns) == 2 {
		return &convCtx.RecentTurns[0], &convCtx.RecentTurns[1]
	}
	if err != nil {
		a.logger.Debug("Turn reload failed after ask", map[string]interface{}{
			"conversation_id": conv.ID,
			"error":           err.Error(),
		})
	}
	return &models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        content,
		}, &models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleAssistant,
			Content:        resp.Answer,
		}
}

func (a *ConversationAPI) modelFor(agent string) string {
	if a.registry == nil || agent == "" {
		return ""
	}
	client, err := a.registry.Client(agents.Agent(agent))
	if err != nil {
		return ""
	}
	return client.Model()
}
