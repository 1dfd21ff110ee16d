package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/S-Corkum/recall/internal/api"
	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/config"
	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/cache"
	"github.com/S-Corkum/recall/pkg/crypto"
	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/ranking"
	"github.com/S-Corkum/recall/pkg/resilience"
	"github.com/S-Corkum/recall/pkg/vector"
)

// overridesRefreshInterval is how often the serving process re-reads
// persisted tuning decisions. The analysis itself runs in the worker;
// this keeps its decisions taking effect without a restart.
const overridesRefreshInterval = time.Hour

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.API.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLoggerFromConfig("server", cfg.Observability.Logging)

	metricsClient := observability.NewMetricsClientWithOptions(observability.MetricsOptions{
		Enabled: cfg.Observability.Metrics.Enabled,
	})
	defer metricsClient.Close()

	if cfg.Observability.Tracing.Enabled {
		shutdownTracing, err := observability.InitTracing(cfg.Observability.Tracing)
		if err != nil {
			logger.Warn("Tracing initialization failed, continuing without it", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer shutdownTracing()
		}
	}

	db, err := database.NewDatabase(ctx, cfg.Database, logger.WithPrefix("database"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	if err := database.WaitForDatabase(ctx, db, 10, time.Second); err != nil {
		log.Fatalf("Database not reachable: %v", err)
	}

	// Vectors normally share the primary pool; a dedicated host gets its
	// own.
	vectorDB := db
	if cfg.Vector.Host != "" && cfg.Vector.Host != cfg.Database.Host {
		vectorDB, err = database.NewDatabase(ctx, cfg.VectorDatabase(), logger.WithPrefix("vectordb"))
		if err != nil {
			log.Fatalf("Failed to initialize vector database: %v", err)
		}
		defer vectorDB.Close()
	}
	vectors := vector.NewPostgresStore(vectorDB.DB(), logger, metricsClient)

	redisCache, err := cache.NewRedisCache(cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer redisCache.Close()

	breakers := resilience.NewBreakerManager(nil, logger)

	embedder, err := embedding.NewFromConfig(ctx, cfg.Embedding, redisCache.Client(), breakers, logger, metricsClient)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	registry, err := agents.NewRegistryFromConfig(ctx, cfg.Agents, breakers, logger)
	if err != nil {
		log.Fatalf("Failed to initialize agent registry: %v", err)
	}

	cipher, err := crypto.NewCipherFromBase64(cfg.Encryption.KeyB64)
	if err != nil {
		log.Fatalf("Failed to initialize content cipher: %v", err)
	}

	repos := repository.New(db.DB())
	recorder := audit.NewRecorder(repos.Audit, logger)
	scorer := ranking.NewScorer(ranking.DefaultWeights)

	memories := services.NewMemoryService(repos.Memories, vectors, embedder, cipher, scorer, recorder, logger, metricsClient)
	conversations := services.NewConversationService(repos.Conversations, logger, metricsClient)
	feedback := services.NewFeedbackService(repos.Feedback, repos.QueryMetrics, repos.Memories, logger, metricsClient)
	retriever := services.NewRetriever(vectors, logger, metricsClient)

	answerCacheCfg := cfg.AnswerCache
	answerCacheCfg.Enabled = answerCacheCfg.Enabled && cfg.Pipeline.SemanticCacheEnabled
	answerCache := cache.NewAnswerCache(redisCache, vectors, answerCacheCfg, logger, metricsClient)

	overrides := services.NewOverrides()
	seedOverrides(overrides, cfg.Pipeline)

	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Memories:      memories,
		Conversations: conversations,
		Retriever:     retriever,
		MemoryRepo:    repos.Memories,
		MetricsRepo:   repos.QueryMetrics,
		Vectors:       vectors,
		Embedder:      embedder,
		Registry:      registry,
		AnswerCache:   answerCache,
		Scorer:        scorer,
		Overrides:     overrides,
		Audit:         recorder,
		Logger:        logger,
		Metrics:       metricsClient,
	})

	tuner := services.NewTuner(services.DefaultTunerConfig(), repos.Feedback, repos.TuningLog, overrides, answerCache, registry, logger, metricsClient)
	if err := tuner.Restore(ctx); err != nil {
		logger.Warn("Failed to restore tuning overrides", map[string]interface{}{
			"error": err.Error(),
		})
	}
	go refreshOverrides(ctx, tuner, logger)

	server := api.NewServer(cfg.API, api.Deps{
		Orchestrator:  orchestrator,
		Memories:      memories,
		Conversations: conversations,
		Feedback:      feedback,
		Tuner:         tuner,
		Users:         repos.Users,
		Registry:      registry,
		Logger:        logger,
		Metrics:       metricsClient,
	})

	var ingest *api.IngestServer
	if cfg.API.Ingest.Enabled {
		ingest = api.NewIngestServer(cfg.API.Ingest, memories, recorder, logger, metricsClient)
		go func() {
			if err := ingest.Start(); err != nil {
				log.Fatalf("Ingest listener failed: %v", err)
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if ingest != nil {
		if err := ingest.Shutdown(shutdownCtx); err != nil {
			logger.Error("Ingest listener shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.Info("Server stopped gracefully", nil)
}

// seedOverrides applies configured pipeline settings that differ from
// the built-in defaults. Persisted tuning decisions are restored on top
// of these.
func seedOverrides(overrides *services.Overrides, pipeline config.PipelineConfig) {
	if !pipeline.SemanticCacheEnabled {
		overrides.Set(services.OverrideSemanticCacheEnabled, "false")
	}
	if pipeline.ContextLimit > 0 && pipeline.ContextLimit != services.DefaultContextLimit {
		overrides.Set(services.OverrideContextLimit, strconv.Itoa(pipeline.ContextLimit))
	}
}

// refreshOverrides periodically re-applies persisted tuning decisions.
func refreshOverrides(ctx context.Context, tuner *services.Tuner, logger observability.Logger) {
	ticker := time.NewTicker(overridesRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tuner.Restore(ctx); err != nil {
				logger.Warn("Failed to refresh tuning overrides", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}
