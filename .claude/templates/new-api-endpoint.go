// Template for a new API endpoint
// Usage: Copy this template when adding a new endpoint

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/recall/pkg/observability"
)

// {Resource}API serves the {resource} endpoints. Routes are scoped to
// the authenticated user via the auth middleware.
type {Resource}API struct {
	{resources} {Resource}Store
	logger      observability.Logger
}

// New{Resource}API creates the {resource} endpoints.
func New{Resource}API({resources} {Resource}Store, logger observability.Logger) *{Resource}API {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &{Resource}API{{resources}: {resources}, logger: logger}
}

// RegisterRoutes mounts the {resource} endpoints on the versioned group.
func (a *{Resource}API) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/{resources}")
	group.POST("", a.create)
	group.GET("/:id", a.get)
}

type create{Resource}Request struct {
	// TODO: request fields with json tags
}

// @Summary {Brief description}
// @Tags {resource}
// @Accept json
// @Produce json
// @Param request body create{Resource}Request true "{description}"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /{resources} [post]
func (a *{Resource}API) create(c *gin.Context) {
	var req create{Resource}Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := a.{resources}.{Method}(c.Request.Context(), c.GetString(ctxUserID), req)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
