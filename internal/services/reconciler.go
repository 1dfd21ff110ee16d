package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/vector"
)

// ReconcileStats reports what one reconciliation pass found.
type ReconcileStats struct {
	Checked        int `json:"checked"`
	Repaired       int `json:"repaired"`
	OrphansRemoved int `json:"orphans_removed"`
	Errors         int `json:"errors"`
}

// Reconciler repairs drift between the relational store and the vector
// store. The relational row is canonical: a row whose vector is missing
// gets the vector rebuilt, a vector whose row is gone gets deleted.
type Reconciler struct {
	memories repository.MemoryRepository
	vectors  vector.Store
	embedder embedding.Client
	audit    audit.Recorder
	logger   observability.Logger
	metrics  observability.MetricsClient
	pageSize int
}

// NewReconciler creates the reconciler.
func NewReconciler(memories repository.MemoryRepository, vectors vector.Store, embedder embedding.Client, recorder audit.Recorder, logger observability.Logger, metrics observability.MetricsClient) *Reconciler {
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Reconciler{
		memories: memories,
		vectors:  vectors,
		embedder: embedder,
		audit:    recorder,
		logger:   logger,
		metrics:  metrics,
		pageSize: 500,
	}
}

// Run executes both sweeps: rows missing their vector, then vectors
// missing their row.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileStats, error) {
	stats := &ReconcileStats{}
	if err := r.repairMissingVectors(ctx, stats); err != nil {
		return stats, err
	}
	if err := r.removeOrphanVectors(ctx, stats); err != nil {
		return stats, err
	}

	if stats.Repaired > 0 || stats.OrphansRemoved > 0 {
		r.audit.LogTransform(ctx, "store_reconciliation", stats.Repaired+stats.OrphansRemoved, models.ClassificationInternal, map[string]interface{}{
			"repaired": stats.Repaired,
			"orphans":  stats.OrphansRemoved,
		})
	}
	if r.metrics != nil {
		r.metrics.IncrementCounter("reconcile_repaired_total", float64(stats.Repaired))
		r.metrics.IncrementCounter("reconcile_orphans_total", float64(stats.OrphansRemoved))
	}
	return stats, nil
}

// repairMissingVectors walks rows that claim a vector and rebuilds any
// vector that is gone or unparseable.
func (r *Reconciler) repairMissingVectors(ctx context.Context, stats *ReconcileStats) error {
	offset := 0
	for {
		items, err := r.memories.ListWithVectors(ctx, r.pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to page items for reconciliation: %w", err)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			stats.Checked++
			vectorID, parseErr := uuid.Parse(item.EmbeddingVectorID)
			if parseErr == nil {
				_, fetchErr := r.vectors.FetchByID(ctx, vector.Raw, vectorID)
				if fetchErr == nil {
					continue
				}
				if !errors.Is(fetchErr, vector.ErrNotFound) {
					stats.Errors++
					r.logger.Warn("Vector fetch failed during reconciliation", map[string]interface{}{
						"memory_id": item.ID,
						"error":     fetchErr.Error(),
					})
					continue
				}
			}
			if err := r.rebuildVector(ctx, item); err != nil {
				stats.Errors++
				r.logger.Warn("Vector rebuild failed", map[string]interface{}{
					"memory_id": item.ID,
					"error":     err.Error(),
				})
				continue
			}
			stats.Repaired++
		}
		if len(items) < r.pageSize {
			break
		}
		offset += len(items)
	}
	return nil
}

func (r *Reconciler) rebuildVector(ctx context.Context, item *models.MemoryItem) error {
	result, err := r.embedder.Embed(ctx, item.Content)
	if err != nil {
		return fmt.Errorf("failed to re-embed content: %w", err)
	}

	props := map[string]interface{}{
		"content":       item.Content,
		"content_hash":  item.ContentHash,
		"user_id":       item.UserID,
		"privacy_level": string(item.PrivacyLevel),
		"source_id":     item.ID,
		"tier":          string(item.Tier),
		"created_at":    item.CreatedAt.UTC().Format(time.RFC3339),
	}
	if len(item.Tags) > 0 {
		props["tags"] = []string(item.Tags)
	}

	vectorID, err := r.vectors.Insert(ctx, vector.Raw, result.Vector, props)
	if err != nil {
		return fmt.Errorf("failed to reinsert vector: %w", err)
	}

	item.EmbeddingVectorID = vectorID.String()
	if err := r.memories.Update(ctx, item); err != nil {
		return fmt.Errorf("failed to relink rebuilt vector: %w", err)
	}
	return nil
}

// removeOrphanVectors walks raw vectors and deletes those whose source
// row no longer exists.
func (r *Reconciler) removeOrphanVectors(ctx context.Context, stats *ReconcileStats) error {
	offset := 0
	for {
		page, err := r.vectors.List(ctx, vector.Raw, nil, r.pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to page raw vectors: %w", err)
		}
		if len(page) == 0 {
			break
		}

		sourceIDs := make([]string, 0, len(page))
		for _, obj := range page {
			if obj.SourceID != "" {
				sourceIDs = append(sourceIDs, obj.SourceID)
			}
		}
		present, err := r.memories.FilterExisting(ctx, sourceIDs)
		if err != nil {
			return fmt.Errorf("failed to check row existence: %w", err)
		}

		removedThisPage := 0
		for _, obj := range page {
			stats.Checked++
			if obj.SourceID != "" && present[obj.SourceID] {
				continue
			}
			removed, err := r.vectors.Delete(ctx, vector.Raw, obj.ID)
			if err != nil {
				stats.Errors++
				r.logger.Warn("Orphan vector delete failed", map[string]interface{}{
					"vector_id": obj.ID.String(),
					"error":     err.Error(),
				})
				continue
			}
			if removed {
				stats.OrphansRemoved++
				removedThisPage++
			}
		}

		if len(page) < r.pageSize {
			break
		}
		// Deletions shift later pages back; only advance past what
		// survived.
		offset += len(page) - removedThisPage
	}
	return nil
}
