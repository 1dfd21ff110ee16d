package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/config"
	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/internal/worker"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/cache"
	"github.com/S-Corkum/recall/pkg/crypto"
	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/ranking"
	"github.com/S-Corkum/recall/pkg/resilience"
	"github.com/S-Corkum/recall/pkg/storage"
	"github.com/S-Corkum/recall/pkg/vector"
	"golang.org/x/sync/errgroup"
)

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

	logger := observability.NewLoggerFromConfig("worker", cfg.Observability.Logging)

	if !cfg.Jobs.Enabled {
		logger.Info("Background jobs are disabled, exiting", nil)
		return
	}

	metricsClient := observability.NewMetricsClientWithOptions(observability.MetricsOptions{
		Enabled: cfg.Observability.Metrics.Enabled,
	})
	defer metricsClient.Close()

	db, err := database.NewDatabase(ctx, cfg.Database, logger.WithPrefix("database"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	if err := database.WaitForDatabase(ctx, db, 10, time.Second); err != nil {
		log.Fatalf("Database not reachable: %v", err)
	}

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

	// The consumer writes through the same memory service the API uses.
	memories := services.NewMemoryService(repos.Memories, vectors, embedder, cipher, scorer, recorder, logger, metricsClient)

	var archiver *storage.Archiver
	if cfg.Storage.Bucket != "" {
		archiver, err = storage.NewArchiver(ctx, cfg.Storage, logger)
		if err != nil {
			log.Fatalf("Failed to initialize archiver: %v", err)
		}
	}

	compactor := services.NewCompactor(compactionConfig(cfg.Jobs), repos.Users, vectors, embedder, registry, recorder, logger, metricsClient)
	maintainer := services.NewMaintainer(services.DefaultMaintenanceConfig(), repos.Memories, vectors, scorer, archiver, recorder, logger, metricsClient)
	reconciler := services.NewReconciler(repos.Memories, vectors, embedder, recorder, logger, metricsClient)

	answerCache := cache.NewAnswerCache(redisCache, vectors, cfg.AnswerCache, logger, metricsClient)
	tuner := services.NewTuner(services.DefaultTunerConfig(), repos.Feedback, repos.TuningLog, services.NewOverrides(), answerCache, registry, logger, metricsClient)

	jobs := worker.StandardJobs(compactor, maintainer, reconciler, tuner)
	scheduler := worker.NewScheduler(jobs, recorder, logger, metricsClient)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting job scheduler", map[string]interface{}{
			"jobs": len(jobs),
		})
		return scheduler.Run(gctx)
	})

	if cfg.Jobs.QueueURL != "" {
		queue, err := worker.NewSQSQueue(ctx, cfg.Jobs.QueueURL)
		if err != nil {
			log.Fatalf("Failed to initialize ingest queue: %v", err)
		}
		consumer := worker.NewConsumer(queue, redisCache, memories, recorder, logger, metricsClient)
		g.Go(func() error {
			logger.Info("Starting ingest consumer", map[string]interface{}{
				"queue_url": cfg.Jobs.QueueURL,
			})
			return consumer.Run(gctx)
		})
	} else {
		logger.Info("No ingest queue configured, running scheduled jobs only", nil)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", map[string]interface{}{
				"signal": sig.String(),
			})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker exited with error: %v", err)
	}
	logger.Info("Worker stopped gracefully", nil)
}

// compactionConfig applies the operator budget on top of the defaults.
func compactionConfig(jobs config.JobsConfig) services.CompactionConfig {
	cfg := services.DefaultCompactionConfig()
	if jobs.SynthesisBudgetUSD > 0 {
		cfg.SynthesisBudgetUSD = jobs.SynthesisBudgetUSD
	}
	return cfg
}
