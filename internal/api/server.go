// Package api is the HTTP surface over the recall services: the
// versioned JSON API behind JWT auth, operational endpoints behind
// static API keys, and a separately-listening HMAC-signed ingest
// webhook receiver.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// Querier runs the answer pipeline for one question.
type Querier interface {
	Ask(ctx context.Context, req services.AskRequest) (*services.AskResponse, error)
}

// MemoryStore is the slice of the memory service the API exposes.
type MemoryStore interface {
	Create(ctx context.Context, input services.CreateMemoryInput) (*models.MemoryItem, error)
	Get(ctx context.Context, userID, memoryID string) (*models.MemoryItem, error)
	List(ctx context.Context, userID string, filter repository.MemoryFilter) ([]*models.MemoryItem, error)
	Update(ctx context.Context, userID, memoryID string, input services.UpdateMemoryInput) (*models.MemoryItem, error)
	Delete(ctx context.Context, userID, memoryID string) (bool, error)
}

// ConversationStore is the conversation surface the API exposes.
type ConversationStore interface {
	Create(ctx context.Context, tenantID, userID, agent, title string) (*models.Conversation, error)
	Get(ctx context.Context, tenantID, userID, conversationID string) (*models.Conversation, error)
	Messages(ctx context.Context, tenantID, userID, conversationID string, limit, offset int) ([]models.Message, error)
	Delete(ctx context.Context, tenantID, userID, conversationID string) (bool, error)
	ListGrouped(ctx context.Context, tenantID, userID string, limit int) ([]services.ConversationGroup, error)
	LoadContext(ctx context.Context, conv *models.Conversation, maxTurns int) (*models.ConversationContext, error)
}

// FeedbackStore records ratings against answered queries.
type FeedbackStore interface {
	Submit(ctx context.Context, input services.SubmitFeedbackInput) (*models.Feedback, error)
	QuerySummary(ctx context.Context, queryID string) (*models.FeedbackSummary, error)
}

// TuningReporter exposes the auto-tuner's state to operators.
type TuningReporter interface {
	State(ctx context.Context) (*services.TunerState, error)
}

// Deps are the collaborators the HTTP layer is wired with. Users is
// required for auth; a nil optional dep leaves its routes unregistered.
type Deps struct {
	Orchestrator  Querier
	Memories      MemoryStore
	Conversations ConversationStore
	Feedback      FeedbackStore
	Tuner         TuningReporter
	Users         repository.UserRepository
	Registry      *agents.Registry
	Logger        observability.Logger
	Metrics       observability.MetricsClient
}

// Server is the public HTTP API.
type Server struct {
	router  *gin.Engine
	server  *http.Server
	config  Config
	deps    Deps
	logger  observability.Logger
	metrics observability.MetricsClient
	started time.Time
}

// NewServer builds the router, middleware chain, and routes.
func NewServer(config Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	if config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(MetricsMiddleware(metrics))
	router.Use(RateLimiter(config.RateLimit))
	router.Use(CORSMiddleware(config.Environment, config.CORSOrigins))

	s := &Server{
		router:  router,
		config:  config,
		deps:    deps,
		logger:  logger,
		metrics: metrics,
		started: time.Now(),
		server: &http.Server{
			Addr:         config.ListenAddress,
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", s.apiKeyAuth(), s.metricsHandler)

	if s.config.EnableSwagger {
		SetupSwaggerDocs(s.router)
	}

	if s.deps.Users != nil {
		NewAuthAPI(s.deps.Users, s.config.Auth, s.logger).RegisterRoutes(s.router.Group("/api/v1"))
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(s.jwtAuth())

	if s.deps.Orchestrator != nil {
		NewQueryAPI(s.deps.Orchestrator, s.logger).RegisterRoutes(v1)
	}
	if s.deps.Memories != nil {
		NewMemoryAPI(s.deps.Memories, s.logger).RegisterRoutes(v1)
	}
	if s.deps.Feedback != nil {
		NewFeedbackAPI(s.deps.Feedback, s.logger).RegisterRoutes(v1)
	}
	if s.deps.Conversations != nil {
		NewConversationAPI(s.deps.Conversations, s.deps.Orchestrator, s.deps.Registry, s.logger).RegisterRoutes(v1)
	}
	if s.deps.Tuner != nil {
		admin := v1.Group("/admin", adminOnly())
		NewAdminAPI(s.deps.Tuner, s.logger).RegisterRoutes(admin)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        "recall",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) metricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// Start begins listening and blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	s.logger.Info("API server listening", map[string]interface{}{
		"address": s.config.ListenAddress,
		"tls":     s.config.TLSCertFile != "",
	})
	var err error
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// respondServiceError maps service failures onto the API's status
// contract: validation problems are 422, missing rows are 404, and
// anything else is a 500 with the detail kept server-side.
func respondServiceError(c *gin.Context, logger observability.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		logger.Error("Request failed", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
