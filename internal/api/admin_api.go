package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/recall/pkg/observability"
)

// AdminAPI exposes operator-only views. Its routes are mounted behind
// the admin role gate.
type AdminAPI struct {
	tuner  TuningReporter
	logger observability.Logger
}

// NewAdminAPI creates the admin endpoints.
func NewAdminAPI(tuner TuningReporter, logger observability.Logger) *AdminAPI {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &AdminAPI{tuner: tuner, logger: logger}
}

// RegisterRoutes mounts the admin endpoints.
func (a *AdminAPI) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/tuning", a.tuningState)
}

// tuningState reports the live override set and recent tuning
// decisions.
func (a *AdminAPI) tuningState(c *gin.Context) {
	state, err := a.tuner.State(c.Request.Context())
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
