package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

// memoryColumns is the canonical column list for memory_items. Keep in
// sync with the migration; SELECT * is avoided so schema additions do
// not break scans.
const memoryColumns = `memory_id, user_id, content, content_hash, encrypted_content,
	embedding_vector_id, tier, phase, tags, privacy_level, crs_score,
	access_count, last_accessed, created_at, updated_at, metadata,
	feedback_summary, confidence_score, flagged, flagged_reason`

// MemoryFilter narrows a memory listing. Zero values mean "no filter"
// for that dimension.
type MemoryFilter struct {
	UserID        string
	Tier          models.MemoryTier
	Phase         string
	Tag           string
	PrivacyLevels []models.PrivacyLevel
	FlaggedOnly   bool
	Limit         int
	Offset        int
}

// MemoryRepository manages memory_items rows. The relational row is
// canonical; vector objects are subordinate and rebuilt from it.
type MemoryRepository interface {
	Create(ctx context.Context, item *models.MemoryItem) error
	GetByID(ctx context.Context, memoryID string) (*models.MemoryItem, error)
	GetByUserAndHash(ctx context.Context, userID, contentHash string) (*models.MemoryItem, error)
	ListByIDs(ctx context.Context, memoryIDs []string) ([]*models.MemoryItem, error)
	List(ctx context.Context, filter MemoryFilter) ([]*models.MemoryItem, error)
	Update(ctx context.Context, item *models.MemoryItem) error
	Delete(ctx context.Context, memoryID string) (bool, error)

	Touch(ctx context.Context, memoryID string, when time.Time) error
	UpdateScore(ctx context.Context, memoryID string, score float64) error
	UpdateFeedbackSummary(ctx context.Context, memoryID string, summary *models.FeedbackSummary) error
	Flag(ctx context.Context, memoryID, reason string) error

	// ListForScoring pages through every item in stable memory_id order
	// for the nightly decay sweep.
	ListForScoring(ctx context.Context, limit, offset int) ([]*models.MemoryItem, error)
	// ListExpired returns retention candidates: items in the tier older
	// than cutoff that no stored feedback references.
	ListExpired(ctx context.Context, tier models.MemoryTier, cutoff time.Time, limit int) ([]*models.MemoryItem, error)
	// ListWithVectors pages through items that claim a vector object,
	// for the reconciliation sweep.
	ListWithVectors(ctx context.Context, limit, offset int) ([]*models.MemoryItem, error)
	// FilterExisting reports which of the given ids exist, for orphan
	// detection against the vector store.
	FilterExisting(ctx context.Context, memoryIDs []string) (map[string]bool, error)

	CountByUser(ctx context.Context, userID string) (int, error)
	CountByTier(ctx context.Context) (map[models.MemoryTier]int, error)
}

type memoryRepository struct {
	db *sqlx.DB
}

// NewMemoryRepository creates a postgres-backed MemoryRepository.
func NewMemoryRepository(db *sqlx.DB) MemoryRepository {
	return &memoryRepository{db: db}
}

// memoryRow overlays the jsonb columns that the model keeps as typed
// fields rather than raw bytes.
type memoryRow struct {
	models.MemoryItem
	MetadataJSON jsonText `db:"metadata"`
	SummaryJSON  jsonText `db:"feedback_summary"`
}

func (row *memoryRow) toModel() (*models.MemoryItem, error) {
	item := row.MemoryItem
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &item.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode memory metadata: %w", err)
		}
	}
	if len(row.SummaryJSON) > 0 {
		var summary models.FeedbackSummary
		if err := json.Unmarshal(row.SummaryJSON, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode feedback summary: %w", err)
		}
		item.FeedbackSummary = &summary
	}
	return &item, nil
}

func newMemoryRow(item *models.MemoryItem) (*memoryRow, error) {
	row := &memoryRow{MemoryItem: *item}
	if item.Metadata != nil {
		data, err := json.Marshal(item.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode memory metadata: %w", err)
		}
		row.MetadataJSON = data
	}
	if item.FeedbackSummary != nil {
		data, err := json.Marshal(item.FeedbackSummary)
		if err != nil {
			return nil, fmt.Errorf("failed to encode feedback summary: %w", err)
		}
		row.SummaryJSON = data
	}
	if row.Tags == nil {
		row.Tags = pq.StringArray{}
	}
	return row, nil
}

func (r *memoryRepository) Create(ctx context.Context, item *models.MemoryItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	row, err := newMemoryRow(item)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO memory_items (
			memory_id, user_id, content, content_hash, encrypted_content,
			embedding_vector_id, tier, phase, tags, privacy_level, crs_score,
			access_count, last_accessed, created_at, updated_at, metadata,
			feedback_summary, confidence_score, flagged, flagged_reason
		) VALUES (
			:memory_id, :user_id, :content, :content_hash, :encrypted_content,
			:embedding_vector_id, :tier, :phase, :tags, :privacy_level, :crs_score,
			:access_count, :last_accessed, :created_at, :updated_at, :metadata,
			:feedback_summary, :confidence_score, :flagged, :flagged_reason
		)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if database.IsUniqueViolation(err, "memory_items_user_id_content_hash_key") {
			return database.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create memory item: %w", err)
	}
	return nil
}

func (r *memoryRepository) GetByID(ctx context.Context, memoryID string) (*models.MemoryItem, error) {
	query := `SELECT ` + memoryColumns + ` FROM memory_items WHERE memory_id = $1`

	var row memoryRow
	err := r.db.GetContext(ctx, &row, query, memoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory item: %w", err)
	}
	return row.toModel()
}

func (r *memoryRepository) GetByUserAndHash(ctx context.Context, userID, contentHash string) (*models.MemoryItem, error) {
	query := `SELECT ` + memoryColumns + ` FROM memory_items WHERE user_id = $1 AND content_hash = $2`

	var row memoryRow
	err := r.db.GetContext(ctx, &row, query, userID, contentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory item by hash: %w", err)
	}
	return row.toModel()
}

func (r *memoryRepository) ListByIDs(ctx context.Context, memoryIDs []string) ([]*models.MemoryItem, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + memoryColumns + ` FROM memory_items WHERE memory_id = ANY($1)`
	return r.selectItems(ctx, query, pq.Array(memoryIDs))
}

func (r *memoryRepository) List(ctx context.Context, filter MemoryFilter) ([]*models.MemoryItem, error) {
	query := `SELECT ` + memoryColumns + ` FROM memory_items WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Tier != "" {
		args = append(args, filter.Tier)
		query += fmt.Sprintf(" AND tier = $%d", len(args))
	}
	if filter.Phase != "" {
		args = append(args, filter.Phase)
		query += fmt.Sprintf(" AND phase = $%d", len(args))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		query += fmt.Sprintf(" AND $%d = ANY(tags)", len(args))
	}
	if len(filter.PrivacyLevels) > 0 {
		levels := make([]string, len(filter.PrivacyLevels))
		for i, level := range filter.PrivacyLevels {
			levels[i] = string(level)
		}
		args = append(args, pq.Array(levels))
		query += fmt.Sprintf(" AND privacy_level = ANY($%d)", len(args))
	}
	if filter.FlaggedOnly {
		query += " AND flagged = true"
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.selectItems(ctx, query, args...)
}

func (r *memoryRepository) Update(ctx context.Context, item *models.MemoryItem) error {
	item.UpdatedAt = time.Now().UTC()

	row, err := newMemoryRow(item)
	if err != nil {
		return err
	}

	query := `
		UPDATE memory_items SET
			content = :content, content_hash = :content_hash,
			encrypted_content = :encrypted_content,
			embedding_vector_id = :embedding_vector_id,
			tier = :tier, phase = :phase, tags = :tags,
			privacy_level = :privacy_level, crs_score = :crs_score,
			metadata = :metadata, feedback_summary = :feedback_summary,
			confidence_score = :confidence_score,
			flagged = :flagged, flagged_reason = :flagged_reason,
			updated_at = :updated_at
		WHERE memory_id = :memory_id`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to update memory item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return database.ErrNotFound
	}
	return nil
}

// Delete removes a row and reports whether it existed. Deleting an
// already-deleted id is not an error so the HTTP layer can answer 404
// on the second call without a race.
func (r *memoryRepository) Delete(ctx context.Context, memoryID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM memory_items WHERE memory_id = $1`, memoryID)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return rows > 0, nil
}

func (r *memoryRepository) Touch(ctx context.Context, memoryID string, when time.Time) error {
	query := `
		UPDATE memory_items
		SET access_count = access_count + 1, last_accessed = $2
		WHERE memory_id = $1`

	if _, err := r.db.ExecContext(ctx, query, memoryID, when.UTC()); err != nil {
		return fmt.Errorf("failed to touch memory item: %w", err)
	}
	return nil
}

func (r *memoryRepository) UpdateScore(ctx context.Context, memoryID string, score float64) error {
	query := `UPDATE memory_items SET crs_score = $2, updated_at = $3 WHERE memory_id = $1`

	if _, err := r.db.ExecContext(ctx, query, memoryID, score, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update memory score: %w", err)
	}
	return nil
}

func (r *memoryRepository) UpdateFeedbackSummary(ctx context.Context, memoryID string, summary *models.FeedbackSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode feedback summary: %w", err)
	}

	query := `UPDATE memory_items SET feedback_summary = $2, updated_at = $3 WHERE memory_id = $1`

	result, err := r.db.ExecContext(ctx, query, memoryID, jsonText(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update feedback summary: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (r *memoryRepository) Flag(ctx context.Context, memoryID, reason string) error {
	query := `UPDATE memory_items SET flagged = true, flagged_reason = $2, updated_at = $3 WHERE memory_id = $1`

	if _, err := r.db.ExecContext(ctx, query, memoryID, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to flag memory item: %w", err)
	}
	return nil
}

func (r *memoryRepository) ListForScoring(ctx context.Context, limit, offset int) ([]*models.MemoryItem, error) {
	query := `SELECT ` + memoryColumns + ` FROM memory_items ORDER BY memory_id LIMIT $1 OFFSET $2`
	return r.selectItems(ctx, query, limit, offset)
}

func (r *memoryRepository) ListExpired(ctx context.Context, tier models.MemoryTier, cutoff time.Time, limit int) ([]*models.MemoryItem, error) {
	// An item is referenced when any feedback row joins to a query that
	// used it. Referenced items are exempt from retention.
	query := `
		SELECT ` + memoryColumns + `
		FROM memory_items m
		WHERE m.tier = $1 AND m.created_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM query_feedback f
			JOIN query_metrics qm ON f.query_id = qm.query_id
			WHERE m.memory_id = ANY(qm.memories_used)
		  )
		ORDER BY m.created_at
		LIMIT $3`

	return r.selectItems(ctx, query, tier, cutoff.UTC(), limit)
}

func (r *memoryRepository) ListWithVectors(ctx context.Context, limit, offset int) ([]*models.MemoryItem, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memory_items
		WHERE embedding_vector_id <> ''
		ORDER BY memory_id
		LIMIT $1 OFFSET $2`

	return r.selectItems(ctx, query, limit, offset)
}

func (r *memoryRepository) FilterExisting(ctx context.Context, memoryIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return existing, nil
	}

	var found []string
	query := `SELECT memory_id FROM memory_items WHERE memory_id = ANY($1)`
	if err := r.db.SelectContext(ctx, &found, query, pq.Array(memoryIDs)); err != nil {
		return nil, fmt.Errorf("failed to filter memory ids: %w", err)
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (r *memoryRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM memory_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count memory items: %w", err)
	}
	return count, nil
}

func (r *memoryRepository) CountByTier(ctx context.Context) (map[models.MemoryTier]int, error) {
	rows := []struct {
		Tier  models.MemoryTier `db:"tier"`
		Count int               `db:"count"`
	}{}
	query := `SELECT tier, COUNT(*) AS count FROM memory_items GROUP BY tier`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count memory items by tier: %w", err)
	}

	counts := make(map[models.MemoryTier]int, len(rows))
	for _, row := range rows {
		counts[row.Tier] = row.Count
	}
	return counts, nil
}

func (r *memoryRepository) selectItems(ctx context.Context, query string, args ...interface{}) ([]*models.MemoryItem, error) {
	var rows []memoryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list memory items: %w", err)
	}

	items := make([]*models.MemoryItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
