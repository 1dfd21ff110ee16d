package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// MemoryAPI is the CRUD surface over stored memories. Every route is
// scoped to the authenticated user; there is no cross-user access.
type MemoryAPI struct {
	memories MemoryStore
	logger   observability.Logger
}

// NewMemoryAPI creates the memory endpoints.
func NewMemoryAPI(memories MemoryStore, logger observability.Logger) *MemoryAPI {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &MemoryAPI{memories: memories, logger: logger}
}

// RegisterRoutes mounts the memory endpoints on the versioned group.
func (a *MemoryAPI) RegisterRoutes(router *gin.RouterGroup) {
	memories := router.Group("/memories")
	memories.POST("", a.create)
	memories.GET("", a.list)
	memories.GET("/:id", a.get)
	memories.PUT("/:id", a.update)
	memories.DELETE("/:id", a.delete)
}

type createMemoryRequest struct {
	Content           string                 `json:"content"`
	Tags              []string               `json:"tags"`
	Tier              string                 `json:"tier"`
	Phase             string                 `json:"phase"`
	PrivacyLevel      string                 `json:"privacy_level"`
	AutoDetectPrivacy *bool                  `json:"auto_detect_privacy"`
	SourceType        string                 `json:"source_type"`
	Metadata          map[string]interface{} `json:"metadata"`
}

func (a *MemoryAPI) create(c *gin.Context) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	input := services.CreateMemoryInput{
		UserID:   c.GetString(ctxUserID),
		Content:  req.Content,
		Tags:     req.Tags,
		Source:   models.MemoryType(req.SourceType),
		Phase:    req.Phase,
		Tier:     models.MemoryTier(req.Tier),
		Metadata: req.Metadata,
	}
	// An explicit level always wins. Otherwise the service classifies
	// the content, unless auto detection was switched off.
	if req.PrivacyLevel != "" {
		input.Privacy = models.PrivacyLevel(req.PrivacyLevel)
	} else if req.AutoDetectPrivacy != nil && !*req.AutoDetectPrivacy {
		input.Privacy = models.PrivacyInternal
	}

	item, err := a.memories.Create(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	if item == nil {
		// Identical content already stored; acknowledged, not duplicated.
		c.JSON(http.StatusOK, gin.H{"memory_id": nil, "duplicate": true})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"memory_id":     item.ID,
		"tier":          item.Tier,
		"privacy_level": item.PrivacyLevel,
		"crs_score":     item.CRSScore,
		"created_at":    item.CreatedAt,
	})
}

func (a *MemoryAPI) list(c *gin.Context) {
	filter := repository.MemoryFilter{
		Tier:  models.MemoryTier(c.Query("tier")),
		Phase: c.Query("phase"),
		Tag:   c.Query("tag"),
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	items, err := a.memories.List(c.Request.Context(), c.GetString(ctxUserID), filter)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": items, "count": len(items)})
}

func (a *MemoryAPI) get(c *gin.Context) {
	item, err := a.memories.Get(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type updateMemoryRequest struct {
	Content      *string   `json:"content"`
	Tags         *[]string `json:"tags"`
	Tier         *string   `json:"tier"`
	Phase        *string   `json:"phase"`
	PrivacyLevel *string   `json:"privacy_level"`
}

func (a *MemoryAPI) update(c *gin.Context) {
	var req updateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	input := services.UpdateMemoryInput{
		Content: req.Content,
		Tags:    req.Tags,
		Phase:   req.Phase,
	}
	if req.Tier != nil {
		tier := models.MemoryTier(*req.Tier)
		input.Tier = &tier
	}
	if req.PrivacyLevel != nil {
		level := models.PrivacyLevel(*req.PrivacyLevel)
		input.Privacy = &level
	}

	item, err := a.memories.Update(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), input)
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// delete returns 200 on the delete that removed the row and 404 for
// anything already gone, so retries are distinguishable from hits.
func (a *MemoryAPI) delete(c *gin.Context) {
	deleted, err := a.memories.Delete(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		respondServiceError(c, a.logger, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
