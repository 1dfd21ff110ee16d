package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/crypto"
	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/privacy"
	"github.com/S-Corkum/recall/pkg/ranking"
	"github.com/S-Corkum/recall/pkg/vector"
)

// ErrValidation marks caller input the service refuses to process. The
// HTTP layer maps it to 422.
var ErrValidation = errors.New("validation failed")

// CreateMemoryInput is the write-path contract.
type CreateMemoryInput struct {
	UserID   string
	Content  string
	Tags     []string
	Source   models.MemoryType
	Phase    string
	Tier     models.MemoryTier
	Privacy  models.PrivacyLevel
	Metadata map[string]interface{}
}

// UpdateMemoryInput patches an item. Nil fields are left untouched.
type UpdateMemoryInput struct {
	Content *string
	Tags    *[]string
	Tier    *models.MemoryTier
	Phase   *string
	Privacy *models.PrivacyLevel
}

// MemoryService owns the memory write path: hash, dedup, privacy,
// encryption, embedding, vector insert, relational insert, audit, in
// that order. The memory id is generated up front and used as the
// vector's source_id, so the two stores agree from the first write.
type MemoryService struct {
	memories repository.MemoryRepository
	vectors  vector.Store
	embedder embedding.Client
	cipher   *crypto.Cipher
	scorer   *ranking.Scorer
	audit    audit.Recorder
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewMemoryService wires the write path.
func NewMemoryService(
	memories repository.MemoryRepository,
	vectors vector.Store,
	embedder embedding.Client,
	cipher *crypto.Cipher,
	scorer *ranking.Scorer,
	recorder audit.Recorder,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *MemoryService {
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if scorer == nil {
		scorer = ranking.NewScorer(ranking.DefaultWeights)
	}
	return &MemoryService{
		memories: memories,
		vectors:  vectors,
		embedder: embedder,
		cipher:   cipher,
		scorer:   scorer,
		audit:    recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// Create stores a new memory. A duplicate (user, content) pair returns
// (nil, nil): not an error, and no side effects on the existing item.
func (s *MemoryService) Create(ctx context.Context, input CreateMemoryInput) (*models.MemoryItem, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if input.Content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}
	tier := input.Tier
	if tier == "" {
		tier = models.TierShort
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrValidation, input.Tier)
	}
	if input.Privacy != "" && !input.Privacy.Valid() {
		return nil, fmt.Errorf("%w: unknown privacy level %q", ErrValidation, input.Privacy)
	}

	hash := crypto.HashContent(input.Content)

	_, err := s.memories.GetByUserAndHash(ctx, input.UserID, hash)
	if err == nil {
		s.audit.LogTransform(ctx, "create_duplicate", 1, models.ClassificationInternal, map[string]interface{}{
			"user_id":      input.UserID,
			"content_hash": hash,
		})
		s.logger.Debug("Duplicate memory content skipped", map[string]interface{}{
			"user_id": input.UserID,
		})
		return nil, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("dedup check failed: %w", err)
	}

	level := input.Privacy
	if level == "" {
		level = privacy.Classify(input.Content, input.Tags)
	}

	ciphertext, err := s.cipher.EncryptString(input.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt content: %w", err)
	}

	embedStart := time.Now()
	result, err := s.embedder.Embed(ctx, input.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordHistogram("memory_embed_latency_ms", float64(time.Since(embedStart).Milliseconds()), nil)
	}

	memoryID := uuid.New().String()
	now := time.Now().UTC()

	vecProps := map[string]interface{}{
		"content":       input.Content,
		"content_hash":  hash,
		"user_id":       input.UserID,
		"privacy_level": string(level),
		"source_id":     memoryID,
		"tier":          string(tier),
		"created_at":    now.Format(time.RFC3339),
	}
	if input.Source != "" {
		vecProps["source_type"] = string(input.Source)
	}
	if len(input.Tags) > 0 {
		vecProps["tags"] = input.Tags
	}

	vectorID, err := s.vectors.Insert(ctx, vector.Raw, result.Vector, vecProps)
	if err != nil {
		return nil, fmt.Errorf("failed to insert vector: %w", err)
	}

	item := &models.MemoryItem{
		ID:                memoryID,
		UserID:            input.UserID,
		Content:           input.Content,
		ContentHash:       hash,
		EncryptedContent:  ciphertext,
		EmbeddingVectorID: vectorID.String(),
		Tier:              tier,
		Phase:             input.Phase,
		Tags:              input.Tags,
		PrivacyLevel:      level,
		Metadata:          input.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	item.CRSScore = s.scorer.ScoreAtRest(item)

	if err := s.memories.Create(ctx, item); err != nil {
		// The vector row must not outlive a failed relational insert.
		if _, delErr := s.vectors.Delete(ctx, vector.Raw, vectorID); delErr != nil {
			s.logger.Warn("Orphan vector left after failed create", map[string]interface{}{
				"vector_id": vectorID.String(),
				"error":     delErr.Error(),
			})
		}
		if errors.Is(err, database.ErrDuplicateKey) {
			// Lost a race with an identical concurrent create.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	s.audit.LogTransform(ctx, "memory_create", 1, models.ClassificationForPrivacy(level), map[string]interface{}{
		"memory_id": memoryID,
		"user_id":   input.UserID,
		"tier":      string(tier),
	})
	if s.metrics != nil {
		s.metrics.IncrementCounterWithLabels("memories_created_total", 1, map[string]string{
			"tier":    string(tier),
			"privacy": string(level),
		})
	}
	return item, nil
}

// Get loads an item scoped to its owner and records the access.
func (s *MemoryService) Get(ctx context.Context, userID, memoryID string) (*models.MemoryItem, error) {
	item, err := s.owned(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	if err := s.memories.Touch(ctx, memoryID, time.Now().UTC()); err != nil {
		s.logger.Debug("Access tracking failed", map[string]interface{}{
			"memory_id": memoryID,
			"error":     err.Error(),
		})
	}
	return item, nil
}

// List returns the owner's items with optional filters.
func (s *MemoryService) List(ctx context.Context, userID string, filter repository.MemoryFilter) ([]*models.MemoryItem, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	filter.UserID = userID
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.memories.List(ctx, filter)
}

// Update patches an item. A content change re-encrypts and re-embeds;
// tag or privacy changes only patch the vector's metadata.
func (s *MemoryService) Update(ctx context.Context, userID, memoryID string, input UpdateMemoryInput) (*models.MemoryItem, error) {
	item, err := s.owned(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}

	contentChanged := input.Content != nil && *input.Content != item.Content
	if contentChanged && *input.Content == "" {
		return nil, fmt.Errorf("%w: content cannot be cleared", ErrValidation)
	}
	if input.Tier != nil {
		if !input.Tier.Valid() {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrValidation, *input.Tier)
		}
		item.Tier = *input.Tier
	}
	if input.Phase != nil {
		item.Phase = *input.Phase
	}
	if input.Tags != nil {
		item.Tags = *input.Tags
	}
	if input.Privacy != nil {
		if !input.Privacy.Valid() {
			return nil, fmt.Errorf("%w: unknown privacy level %q", ErrValidation, *input.Privacy)
		}
		item.PrivacyLevel = *input.Privacy
	}

	vecID, vecErr := uuid.Parse(item.EmbeddingVectorID)
	hasVector := vecErr == nil && item.EmbeddingVectorID != ""

	if contentChanged {
		item.Content = *input.Content
		item.ContentHash = crypto.HashContent(item.Content)
		if input.Privacy == nil {
			item.PrivacyLevel = privacy.Classify(item.Content, item.Tags)
		}

		ciphertext, err := s.cipher.EncryptString(item.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt content: %w", err)
		}
		item.EncryptedContent = ciphertext

		result, err := s.embedder.Embed(ctx, item.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to embed content: %w", err)
		}
		if hasVector {
			err = s.vectors.Update(ctx, vector.Raw, vecID, result.Vector, map[string]interface{}{
				"content":       item.Content,
				"content_hash":  item.ContentHash,
				"privacy_level": string(item.PrivacyLevel),
				"tags":          []string(item.Tags),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to update vector: %w", err)
			}
		}
	} else if hasVector && (input.Tags != nil || input.Privacy != nil) {
		err = s.vectors.Update(ctx, vector.Raw, vecID, nil, map[string]interface{}{
			"privacy_level": string(item.PrivacyLevel),
			"tags":          []string(item.Tags),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update vector metadata: %w", err)
		}
	}

	if err := s.memories.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}

	s.audit.LogTransform(ctx, "memory_update", 1, models.ClassificationForPrivacy(item.PrivacyLevel), map[string]interface{}{
		"memory_id":       memoryID,
		"content_changed": contentChanged,
	})
	return item, nil
}

// Delete removes the vector first (missing is fine), then the row.
func (s *MemoryService) Delete(ctx context.Context, userID, memoryID string) (bool, error) {
	item, err := s.owned(ctx, userID, memoryID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if vecID, parseErr := uuid.Parse(item.EmbeddingVectorID); parseErr == nil {
		if _, delErr := s.vectors.Delete(ctx, vector.Raw, vecID); delErr != nil {
			s.logger.Warn("Vector delete failed, continuing with row delete", map[string]interface{}{
				"memory_id": memoryID,
				"vector_id": item.EmbeddingVectorID,
				"error":     delErr.Error(),
			})
		}
	}

	deleted, err := s.memories.Delete(ctx, memoryID)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	if deleted {
		s.audit.LogTransform(ctx, "memory_delete", 1, models.ClassificationForPrivacy(item.PrivacyLevel), map[string]interface{}{
			"memory_id": memoryID,
			"user_id":   userID,
		})
	}
	return deleted, nil
}

// TouchAll records access for the items an answer actually used.
func (s *MemoryService) TouchAll(ctx context.Context, memoryIDs []string) {
	now := time.Now().UTC()
	for _, id := range memoryIDs {
		if err := s.memories.Touch(ctx, id, now); err != nil {
			s.logger.Debug("Access tracking failed", map[string]interface{}{
				"memory_id": id,
				"error":     err.Error(),
			})
		}
	}
}

// Decrypt returns the plaintext for an item's stored ciphertext. On
// authentication failure the row is flagged for review.
func (s *MemoryService) Decrypt(ctx context.Context, item *models.MemoryItem) (string, error) {
	plaintext, err := s.cipher.DecryptString(item.EncryptedContent)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryption) {
			if flagErr := s.memories.Flag(ctx, item.ID, "ciphertext authentication failed"); flagErr != nil {
				s.logger.Warn("Failed to flag tampered row", map[string]interface{}{
					"memory_id": item.ID,
					"error":     flagErr.Error(),
				})
			}
		}
		return "", err
	}
	return plaintext, nil
}

func (s *MemoryService) owned(ctx context.Context, userID, memoryID string) (*models.MemoryItem, error) {
	if _, err := uuid.Parse(memoryID); err != nil {
		return nil, fmt.Errorf("%w: malformed memory id", ErrValidation)
	}
	item, err := s.memories.GetByID(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		// Cross-user access looks identical to a missing id.
		return nil, database.ErrNotFound
	}
	return item, nil
}
