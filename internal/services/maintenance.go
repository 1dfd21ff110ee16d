package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/ranking"
	"github.com/S-Corkum/recall/pkg/storage"
	"github.com/S-Corkum/recall/pkg/vector"
)

// MaintenanceConfig bounds the background sweeps.
type MaintenanceConfig struct {
	// ScoreBatchSize is how many items one decay page rescores.
	ScoreBatchSize int
	// ScoreEpsilon suppresses writes for negligible score drift.
	ScoreEpsilon float64
	// RetentionShort and RetentionMid are the tier retention windows.
	// LONG items are never expired.
	RetentionShort time.Duration
	RetentionMid   time.Duration
	// RetentionBatch bounds one retention page.
	RetentionBatch int
	// DedupPage bounds one dedup listing page.
	DedupPage int
}

// DefaultMaintenanceConfig returns the production windows.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		ScoreBatchSize: 500,
		ScoreEpsilon:   0.0005,
		RetentionShort: 30 * 24 * time.Hour,
		RetentionMid:   365 * 24 * time.Hour,
		RetentionBatch: 200,
		DedupPage:      500,
	}
}

// MaintenanceStats reports what one sweep did.
type MaintenanceStats struct {
	Scanned  int `json:"scanned"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Deleted  int `json:"deleted"`
	Errors   int `json:"errors"`
}

// Maintainer runs the recurring hygiene sweeps: score decay, vector
// dedup, and tier retention.
type Maintainer struct {
	config   MaintenanceConfig
	memories repository.MemoryRepository
	vectors  vector.Store
	scorer   *ranking.Scorer
	archiver *storage.Archiver
	audit    audit.Recorder
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewMaintainer creates the maintenance service. The archiver is
// optional; without it retention deletes without archiving.
func NewMaintainer(config MaintenanceConfig, memories repository.MemoryRepository, vectors vector.Store, scorer *ranking.Scorer, archiver *storage.Archiver, recorder audit.Recorder, logger observability.Logger, metrics observability.MetricsClient) *Maintainer {
	if config.ScoreBatchSize <= 0 {
		config = DefaultMaintenanceConfig()
	}
	if scorer == nil {
		scorer = ranking.NewScorer(ranking.DefaultWeights)
	}
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Maintainer{
		config:   config,
		memories: memories,
		vectors:  vectors,
		scorer:   scorer,
		archiver: archiver,
		audit:    recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// RunDecay rescores every memory item with the at-rest blend so recency
// decay shows up in stored scores. Only meaningful drift is written
// back.
func (m *Maintainer) RunDecay(ctx context.Context) (*MaintenanceStats, error) {
	stats := &MaintenanceStats{}
	offset := 0
	for {
		items, err := m.memories.ListForScoring(ctx, m.config.ScoreBatchSize, offset)
		if err != nil {
			return stats, fmt.Errorf("failed to page items for rescoring: %w", err)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			stats.Scanned++
			fresh := m.scorer.ScoreAtRest(item)
			if math.Abs(fresh-item.CRSScore) <= m.config.ScoreEpsilon {
				continue
			}
			if err := m.memories.UpdateScore(ctx, item.ID, fresh); err != nil {
				stats.Errors++
				m.logger.Warn("Score update failed", map[string]interface{}{
					"memory_id": item.ID,
					"error":     err.Error(),
				})
				continue
			}
			stats.Updated++
		}
		if len(items) < m.config.ScoreBatchSize {
			break
		}
		offset += len(items)
	}
	if m.metrics != nil {
		m.metrics.RecordGauge("decay_rescored", float64(stats.Updated), nil)
	}
	return stats, nil
}

// RunDedup removes duplicate raw vectors that share a (user, content
// hash) pair. The oldest object survives; it is the one the relational
// row references, since later duplicate writes were rejected there.
func (m *Maintainer) RunDedup(ctx context.Context) (*MaintenanceStats, error) {
	stats := &MaintenanceStats{}

	groups := map[string][]*vector.Object{}
	offset := 0
	for {
		page, err := m.vectors.List(ctx, vector.Raw, nil, m.config.DedupPage, offset)
		if err != nil {
			return stats, fmt.Errorf("failed to page raw vectors: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, obj := range page {
			stats.Scanned++
			if obj.ContentHash == "" {
				continue
			}
			key := obj.UserID + "\x00" + obj.ContentHash
			groups[key] = append(groups[key], obj)
		}
		if len(page) < m.config.DedupPage {
			break
		}
		offset += len(page)
	}

	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt.Before(members[j].CreatedAt) })
		for _, dupe := range members[1:] {
			removed, err := m.vectors.Delete(ctx, vector.Raw, dupe.ID)
			if err != nil {
				stats.Errors++
				m.logger.Warn("Duplicate vector delete failed", map[string]interface{}{
					"vector_id": dupe.ID.String(),
					"error":     err.Error(),
				})
				continue
			}
			if removed {
				stats.Deleted++
			}
		}
	}

	if stats.Deleted > 0 {
		m.audit.LogTransform(ctx, "vector_dedup", stats.Deleted, models.ClassificationInternal, nil)
	}
	if m.metrics != nil {
		m.metrics.IncrementCounter("dedup_vectors_removed_total", float64(stats.Deleted))
	}
	return stats, nil
}

// RunRetention expires SHORT and MID items past their windows. Items
// with stored feedback are excluded by the repository query; LONG items
// never expire. With an archiver configured, items are archived first
// and kept when archival fails.
func (m *Maintainer) RunRetention(ctx context.Context) (*MaintenanceStats, error) {
	stats := &MaintenanceStats{}
	now := time.Now()

	windows := []struct {
		tier   models.MemoryTier
		window time.Duration
	}{
		{models.TierShort, m.config.RetentionShort},
		{models.TierMid, m.config.RetentionMid},
	}

	for _, w := range windows {
		cutoff := now.Add(-w.window)
		for {
			items, err := m.memories.ListExpired(ctx, w.tier, cutoff, m.config.RetentionBatch)
			if err != nil {
				return stats, fmt.Errorf("failed to list expired %s items: %w", w.tier, err)
			}
			if len(items) == 0 {
				break
			}
			progressed := 0
			for _, item := range items {
				stats.Scanned++
				if m.expireItem(ctx, item, stats) {
					progressed++
				}
			}
			// Every remaining candidate failed; stop rather than spin
			// on the same page.
			if progressed == 0 {
				break
			}
			if len(items) < m.config.RetentionBatch {
				break
			}
		}
	}

	if stats.Deleted > 0 {
		m.audit.LogTransform(ctx, "retention_expire", stats.Deleted, models.ClassificationInternal, map[string]interface{}{
			"archived": stats.Archived,
		})
	}
	if m.metrics != nil {
		m.metrics.IncrementCounter("retention_expired_total", float64(stats.Deleted))
	}
	return stats, nil
}

func (m *Maintainer) expireItem(ctx context.Context, item *models.MemoryItem, stats *MaintenanceStats) bool {
	if m.archiver != nil {
		if _, err := m.archiver.ArchiveMemory(ctx, item); err != nil {
			stats.Errors++
			m.logger.Warn("Archive failed, keeping item", map[string]interface{}{
				"memory_id": item.ID,
				"error":     err.Error(),
			})
			return false
		}
		stats.Archived++
	}

	if item.EmbeddingVectorID != "" {
		if vectorID, err := uuid.Parse(item.EmbeddingVectorID); err == nil {
			if _, err := m.vectors.Delete(ctx, vector.Raw, vectorID); err != nil {
				m.logger.Warn("Vector delete failed during retention", map[string]interface{}{
					"memory_id": item.ID,
					"vector_id": item.EmbeddingVectorID,
					"error":     err.Error(),
				})
			}
		}
	}

	removed, err := m.memories.Delete(ctx, item.ID)
	if err != nil {
		stats.Errors++
		m.logger.Warn("Row delete failed during retention", map[string]interface{}{
			"memory_id": item.ID,
			"error":     err.Error(),
		})
		return false
	}
	if removed {
		stats.Deleted++
	}
	return true
}
