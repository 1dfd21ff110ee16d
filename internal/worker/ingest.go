package worker

import (
	"context"
	"errors"
	"time"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/services"
	"github.com/S-Corkum/recall/pkg/cache"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// idempotencyTTL bounds how long a processed event id is remembered.
const idempotencyTTL = 24 * time.Hour

const idempotencyPrefix = "recall:ingest:processed:"

// QueueClient receives ingest events. *SQSQueue implements it.
type QueueClient interface {
	ReceiveEvents(ctx context.Context, maxMessages, waitSeconds int32) ([]IngestEvent, []string, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

// MemoryWriter is the slice of the memory service the consumer needs.
type MemoryWriter interface {
	Create(ctx context.Context, input services.CreateMemoryInput) (*models.MemoryItem, error)
}

// Consumer drains the ingest queue into memory storage. Redelivered
// events are recognized by id and acknowledged without a second write;
// events that fail validation are dropped because a retry cannot fix
// them.
type Consumer struct {
	queue       QueueClient
	idempotency cache.Cache
	memories    MemoryWriter
	audit       audit.Recorder
	logger      observability.Logger
	metrics     observability.MetricsClient

	batchSize      int32
	waitSeconds    int32
	receiveBackoff time.Duration
}

// NewConsumer creates a queue consumer.
func NewConsumer(queue QueueClient, idempotency cache.Cache, memories MemoryWriter, recorder audit.Recorder, logger observability.Logger, metrics observability.MetricsClient) *Consumer {
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Consumer{
		queue:          queue,
		idempotency:    idempotency,
		memories:       memories,
		audit:          recorder,
		logger:         logger,
		metrics:        metrics,
		batchSize:      5,
		waitSeconds:    10,
		receiveBackoff: 5 * time.Second,
	}
}

// Run polls until the context is canceled. Receive errors are waited
// out rather than crashing the worker.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Ingest consumer started", map[string]interface{}{})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Queue receive failed", map[string]interface{}{
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.receiveBackoff):
			}
		}
	}
}

func (c *Consumer) pollOnce(ctx context.Context) error {
	events, handles, err := c.queue.ReceiveEvents(ctx, c.batchSize, c.waitSeconds)
	if err != nil {
		return err
	}
	for i, event := range events {
		c.handle(ctx, event, handles[i])
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, event IngestEvent, handle string) {
	key := idempotencyPrefix + event.EventID
	if event.EventID != "" {
		seen, err := c.idempotency.Exists(ctx, key)
		if err != nil {
			c.logger.Warn("Idempotency check failed, processing anyway", map[string]interface{}{
				"event_id": event.EventID,
				"error":    err.Error(),
			})
		} else if seen {
			_ = c.queue.DeleteMessage(ctx, handle)
			return
		}
	}

	item, err := c.memories.Create(ctx, services.CreateMemoryInput{
		UserID:   event.UserID,
		Content:  event.Content,
		Tags:     event.Tags,
		Source:   models.MemoryType(event.Source),
		Tier:     models.MemoryTier(event.Tier),
		Metadata: event.Metadata,
	})
	switch {
	case errors.Is(err, services.ErrValidation):
		c.logger.Warn("Dropping invalid ingest event", map[string]interface{}{
			"event_id": event.EventID,
			"source":   event.Source,
			"error":    err.Error(),
		})
		c.metrics.IncrementCounterWithLabels("ingest_rejected_total", 1, map[string]string{"source": event.Source})
	case err != nil:
		// Transient failure: no ack, no idempotency mark, so the queue
		// redelivers.
		c.logger.Error("Ingest write failed, leaving event for retry", map[string]interface{}{
			"event_id": event.EventID,
			"source":   event.Source,
			"error":    err.Error(),
		})
		c.metrics.IncrementCounterWithLabels("ingest_retried_total", 1, map[string]string{"source": event.Source})
		return
	case item == nil:
		c.metrics.IncrementCounterWithLabels("ingest_duplicate_total", 1, map[string]string{"source": event.Source})
	default:
		c.audit.LogIngress(ctx, event.Source, "queue_ingest", 1, models.ClassificationForPrivacy(item.PrivacyLevel), map[string]interface{}{
			"event_id":  event.EventID,
			"memory_id": item.ID,
		})
		c.metrics.IncrementCounterWithLabels("ingest_accepted_total", 1, map[string]string{"source": event.Source})
	}

	if event.EventID != "" {
		if err := c.idempotency.Set(ctx, key, "1", idempotencyTTL); err != nil {
			c.logger.Warn("Idempotency mark failed", map[string]interface{}{
				"event_id": event.EventID,
				"error":    err.Error(),
			})
		}
	}
	if err := c.queue.DeleteMessage(ctx, handle); err != nil {
		c.logger.Warn("Message ack failed", map[string]interface{}{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
	}
}
