package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/observability"
)

// PostgresStore implements Store on top of a pgvector-enabled Postgres
// database. All collections share the vector_objects table with a
// collection discriminator column.
type PostgresStore struct {
	db      *sqlx.DB
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewPostgresStore creates a vector store over an existing connection pool.
func NewPostgresStore(db *sqlx.DB, logger observability.Logger, metrics observability.MetricsClient) Store {
	if logger == nil {
		logger = observability.NewStandardLogger("vector")
	}
	return &PostgresStore{
		db:      db,
		logger:  logger,
		metrics: metrics,
	}
}

type objectRow struct {
	ID           uuid.UUID      `db:"id"`
	Content      string         `db:"content"`
	ContentHash  string         `db:"content_hash"`
	UserID       string         `db:"user_id"`
	SourceID     string         `db:"source_id"`
	PrivacyLevel string         `db:"privacy_level"`
	Tags         pq.StringArray `db:"tags"`
	Props        []byte         `db:"props"`
	CreatedAt    time.Time      `db:"created_at"`
}

type searchRow struct {
	objectRow
	Similarity float64 `db:"similarity"`
}

const objectColumns = "id, content, content_hash, user_id, source_id, privacy_level, tags, props, created_at"

// Insert stores a new object after schema validation and returns its id.
func (s *PostgresStore) Insert(ctx context.Context, collection Collection, vec []float32, props map[string]interface{}) (uuid.UUID, error) {
	start := time.Now()

	if err := ValidateProps(collection, props); err != nil {
		return uuid.Nil, err
	}
	if err := checkDimensions(collection, vec); err != nil {
		return uuid.Nil, err
	}

	core, extra := splitProps(props)
	propsJSON, err := json.Marshal(extra)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal props: %w", err)
	}

	id := uuid.New()
	query := `INSERT INTO vector_objects
		(id, collection, content, content_hash, user_id, source_id, privacy_level, tags, props, embedding, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector, $11)`

	_, err = s.db.ExecContext(ctx, query,
		id,
		string(collection),
		core.content,
		core.contentHash,
		core.userID,
		core.sourceID,
		core.privacyLevel,
		pq.Array(core.tags),
		// jsonb parameters go over the wire as text; a []byte would be
		// sent as bytea.
		string(propsJSON),
		pgvector.NewVector(vec),
		core.createdAt,
	)
	s.observe("vector_insert", start, err)
	if err != nil {
		s.logger.Error("Vector insert failed", map[string]interface{}{
			"collection": collection,
			"error":      err.Error(),
		})
		return uuid.Nil, fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	return id, nil
}

// Update patches the embedding and/or properties of an existing object.
func (s *PostgresStore) Update(ctx context.Context, collection Collection, id uuid.UUID, vec []float32, props map[string]interface{}) error {
	start := time.Now()

	if _, err := SchemaFor(collection); err != nil {
		return err
	}
	if id == uuid.Nil {
		return errors.New("id cannot be empty")
	}
	if vec == nil && len(props) == 0 {
		return nil
	}

	var sets []string
	var args []interface{}
	argIndex := 1

	if vec != nil {
		if err := checkDimensions(collection, vec); err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("embedding = $%d::vector", argIndex))
		args = append(args, pgvector.NewVector(vec))
		argIndex++
	}

	if len(props) > 0 {
		if err := ValidatePatch(collection, props); err != nil {
			return err
		}
		core, extra := splitProps(props)
		if _, ok := props["content"]; ok {
			sets = append(sets, fmt.Sprintf("content = $%d", argIndex))
			args = append(args, core.content)
			argIndex++
		}
		if _, ok := props["content_hash"]; ok {
			sets = append(sets, fmt.Sprintf("content_hash = $%d", argIndex))
			args = append(args, core.contentHash)
			argIndex++
		}
		if _, ok := props["privacy_level"]; ok {
			sets = append(sets, fmt.Sprintf("privacy_level = $%d", argIndex))
			args = append(args, core.privacyLevel)
			argIndex++
		}
		if _, ok := props["tags"]; ok {
			sets = append(sets, fmt.Sprintf("tags = $%d", argIndex))
			args = append(args, pq.Array(core.tags))
			argIndex++
		}
		if len(extra) > 0 {
			patchJSON, err := json.Marshal(extra)
			if err != nil {
				return fmt.Errorf("failed to marshal props: %w", err)
			}
			sets = append(sets, fmt.Sprintf("props = props || $%d", argIndex))
			args = append(args, string(patchJSON))
			argIndex++
		}
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE vector_objects SET %s WHERE collection = $%d AND id = $%d",
		strings.Join(sets, ", "), argIndex, argIndex+1)
	args = append(args, string(collection), id)

	result, err := s.db.ExecContext(ctx, query, args...)
	s.observe("vector_update", start, err)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	return nil
}

// Delete removes an object. A missing id is a no-op and reports false.
func (s *PostgresStore) Delete(ctx context.Context, collection Collection, id uuid.UUID) (bool, error) {
	start := time.Now()

	if _, err := SchemaFor(collection); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM vector_objects WHERE collection = $1 AND id = $2`,
		string(collection), id)
	s.observe("vector_delete", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

// NearVector returns the closest objects by cosine distance, best first.
func (s *PostgresStore) NearVector(ctx context.Context, collection Collection, vec []float32, limit int, filter *Filter) ([]SearchResult, error) {
	start := time.Now()

	if _, err := SchemaFor(collection); err != nil {
		return nil, err
	}
	if err := checkDimensions(collection, vec); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + objectColumns + `,
		1 - (embedding <=> $1::vector) AS similarity
	FROM vector_objects
	WHERE collection = $2`
	args := []interface{}{pgvector.NewVector(vec), string(collection)}
	argIndex := 3

	conditions, condArgs := buildFilter(filter, argIndex)
	if filter != nil && filter.MinSimilarity > 0 {
		conditions = append(conditions, fmt.Sprintf("1 - (embedding <=> $1::vector) >= $%d", argIndex+len(condArgs)))
		condArgs = append(condArgs, filter.MinSimilarity)
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
		args = append(args, condArgs...)
		argIndex += len(condArgs)
	}

	query += fmt.Sprintf(" ORDER BY similarity DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	var rows []searchRow
	err := s.db.SelectContext(ctx, &rows, query, args...)
	s.observe("vector_search", start, err)
	if err != nil {
		s.logger.Error("Vector search failed", map[string]interface{}{
			"collection": collection,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		props, err := row.mergedProps()
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			ID:         row.ID,
			Distance:   1 - row.Similarity,
			Similarity: row.Similarity,
			Props:      props,
		})
	}

	return results, nil
}

// Count reports the number of objects in a collection.
func (s *PostgresStore) Count(ctx context.Context, collection Collection) (int64, error) {
	if _, err := SchemaFor(collection); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM vector_objects WHERE collection = $1`, string(collection))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}

	return count, nil
}

// FetchByID loads a single object.
func (s *PostgresStore) FetchByID(ctx context.Context, collection Collection, id uuid.UUID) (*Object, error) {
	if _, err := SchemaFor(collection); err != nil {
		return nil, err
	}

	var row objectRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+objectColumns+` FROM vector_objects WHERE collection = $1 AND id = $2`,
		string(collection), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s/%s: %w", collection, id, err)
	}

	return row.toObject(collection)
}

// List returns objects matching the filter ordered newest first.
func (s *PostgresStore) List(ctx context.Context, collection Collection, filter *Filter, limit, offset int) ([]*Object, error) {
	start := time.Now()

	if _, err := SchemaFor(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + objectColumns + ` FROM vector_objects WHERE collection = $1`
	args := []interface{}{string(collection)}
	argIndex := 2

	conditions, condArgs := buildFilter(filter, argIndex)
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
		args = append(args, condArgs...)
		argIndex += len(condArgs)
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	var rows []objectRow
	err := s.db.SelectContext(ctx, &rows, query, args...)
	s.observe("vector_list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	objects := make([]*Object, 0, len(rows))
	for _, row := range rows {
		obj, err := row.toObject(collection)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}

	return objects, nil
}

// buildFilter translates a Filter into SQL conditions starting at argIndex.
func buildFilter(filter *Filter, argIndex int) ([]string, []interface{}) {
	if filter == nil {
		return nil, nil
	}

	var conditions []string
	var args []interface{}

	next := func() int { return argIndex + len(args) }

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", next()))
		args = append(args, filter.UserID)
	}
	if len(filter.PrivacyLevels) > 0 {
		conditions = append(conditions, fmt.Sprintf("privacy_level = ANY($%d)", next()))
		args = append(args, pq.Array(filter.PrivacyLevels))
	}
	if len(filter.Tags) > 0 {
		conditions = append(conditions, fmt.Sprintf("tags && $%d", next()))
		args = append(args, pq.Array(filter.Tags))
	}
	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", next()))
		args = append(args, *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", next()))
		args = append(args, *filter.CreatedBefore)
	}
	for key, value := range filter.Props {
		conditions = append(conditions, fmt.Sprintf("props->>$%d = $%d", next(), next()+1))
		args = append(args, key, propString(value))
	}

	return conditions, args
}

type coreFields struct {
	content      string
	contentHash  string
	userID       string
	sourceID     string
	privacyLevel string
	tags         []string
	createdAt    time.Time
}

// splitProps separates core column values from collection-specific
// properties.
func splitProps(props map[string]interface{}) (coreFields, map[string]interface{}) {
	core := coreFields{
		content:      propString(props["content"]),
		contentHash:  propString(props["content_hash"]),
		userID:       propString(props["user_id"]),
		sourceID:     propString(props["source_id"]),
		privacyLevel: propString(props["privacy_level"]),
		tags:         stringSlice(props["tags"]),
	}
	if t, ok := props["created_at"].(time.Time); ok {
		core.createdAt = t.UTC()
	} else {
		core.createdAt = time.Now().UTC()
	}

	extra := make(map[string]interface{})
	coreSet := map[string]bool{}
	for _, k := range coreProperties {
		coreSet[k] = true
	}
	for key, value := range props {
		if !coreSet[key] {
			extra[key] = value
		}
	}

	return core, extra
}

func (r objectRow) toObject(collection Collection) (*Object, error) {
	props := make(map[string]interface{})
	if len(r.Props) > 0 {
		if err := json.Unmarshal(r.Props, &props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal props for %s: %w", r.ID, err)
		}
	}

	return &Object{
		ID:           r.ID,
		Collection:   collection,
		Content:      r.Content,
		ContentHash:  r.ContentHash,
		UserID:       r.UserID,
		SourceID:     r.SourceID,
		PrivacyLevel: r.PrivacyLevel,
		Tags:         []string(r.Tags),
		Props:        props,
		CreatedAt:    r.CreatedAt,
	}, nil
}

// mergedProps folds core columns into the property map so search callers
// read a single map regardless of where a field is stored.
func (r objectRow) mergedProps() (map[string]interface{}, error) {
	props := make(map[string]interface{})
	if len(r.Props) > 0 {
		if err := json.Unmarshal(r.Props, &props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal props for %s: %w", r.ID, err)
		}
	}

	if r.Content != "" {
		props["content"] = r.Content
	}
	if r.ContentHash != "" {
		props["content_hash"] = r.ContentHash
	}
	if r.UserID != "" {
		props["user_id"] = r.UserID
	}
	if r.SourceID != "" {
		props["source_id"] = r.SourceID
	}
	if r.PrivacyLevel != "" {
		props["privacy_level"] = r.PrivacyLevel
	}
	if len(r.Tags) > 0 {
		props["tags"] = []string(r.Tags)
	}
	props["created_at"] = r.CreatedAt

	return props, nil
}

func checkDimensions(collection Collection, vec []float32) error {
	if len(vec) != embedding.Dimensions {
		return fmt.Errorf("collection %s expects %d dimensions, got %d: %w",
			collection, embedding.Dimensions, len(vec), embedding.ErrDimensionMismatch)
	}
	return nil
}

func propString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func stringSlice(value interface{}) []string {
	switch v := value.(type) {
	case nil:
		return []string{}
	case []string:
		return v
	case pq.StringArray:
		return []string(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, propString(item))
		}
		return out
	default:
		return []string{}
	}
}

func (s *PostgresStore) observe(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation(operation, err == nil, time.Since(start).Seconds())
	}
}
