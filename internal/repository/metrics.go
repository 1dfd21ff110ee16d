package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

// UsageStats is the aggregate the admin surface reports for a window.
type UsageStats struct {
	TotalQueries   int     `db:"total_queries"`
	CacheHits      int     `db:"cache_hits"`
	ErrorResponses int     `db:"error_responses"`
	AvgLatencyMs   float64 `db:"avg_latency_ms"`
	TotalCostUSD   float64 `db:"total_cost_usd"`
}

// QueryMetricsRepository manages the per-query analytics rows. One row
// is written per ask and is the source of truth for response_source.
type QueryMetricsRepository interface {
	Create(ctx context.Context, metrics *models.QueryMetrics) error
	GetByID(ctx context.Context, queryID string) (*models.QueryMetrics, error)
	// Finalize writes the answer-time fields back onto the pending row
	// created at the start of the pipeline.
	Finalize(ctx context.Context, metrics *models.QueryMetrics) error
	MarkEnriched(ctx context.Context, queryID string) error
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.QueryMetrics, error)
	Stats(ctx context.Context, since time.Time) (*UsageStats, error)
}

type queryMetricsRepository struct {
	db *sqlx.DB
}

// NewQueryMetricsRepository creates a postgres-backed QueryMetricsRepository.
func NewQueryMetricsRepository(db *sqlx.DB) QueryMetricsRepository {
	return &queryMetricsRepository{db: db}
}

type queryMetricsRow struct {
	models.QueryMetrics
	MemoriesUsedArr pq.StringArray `db:"memories_used"`
}

func (row *queryMetricsRow) toModel() *models.QueryMetrics {
	metrics := row.QueryMetrics
	metrics.MemoriesUsed = []string(row.MemoriesUsedArr)
	return &metrics
}

const queryMetricsColumns = `query_id, user_id, tenant_id, query_text, query_hash, intent,
	agent_used, response_source, answer, confidence, search_latency_ms,
	llm_latency_ms, total_latency_ms, input_tokens, output_tokens,
	est_cost_usd, memories_used, enriched, created_at`

func (r *queryMetricsRepository) Create(ctx context.Context, metrics *models.QueryMetrics) error {
	if metrics.QueryID == "" {
		metrics.QueryID = uuid.New().String()
	}
	if metrics.CreatedAt.IsZero() {
		metrics.CreatedAt = time.Now().UTC()
	}

	row := queryMetricsRow{QueryMetrics: *metrics}
	row.MemoriesUsedArr = pq.StringArray(metrics.MemoriesUsed)
	if row.MemoriesUsedArr == nil {
		row.MemoriesUsedArr = pq.StringArray{}
	}

	query := `
		INSERT INTO query_metrics (
			query_id, user_id, tenant_id, query_text, query_hash, intent,
			agent_used, response_source, answer, confidence, search_latency_ms,
			llm_latency_ms, total_latency_ms, input_tokens, output_tokens,
			est_cost_usd, memories_used, enriched, created_at
		) VALUES (
			:query_id, :user_id, :tenant_id, :query_text, :query_hash, :intent,
			:agent_used, :response_source, :answer, :confidence, :search_latency_ms,
			:llm_latency_ms, :total_latency_ms, :input_tokens, :output_tokens,
			:est_cost_usd, :memories_used, :enriched, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, &row); err != nil {
		if database.IsUniqueViolation(err, "") {
			return database.ErrDuplicateKey
		}
		return fmt.Errorf("failed to record query metrics: %w", err)
	}
	return nil
}

func (r *queryMetricsRepository) GetByID(ctx context.Context, queryID string) (*models.QueryMetrics, error) {
	query := `SELECT ` + queryMetricsColumns + ` FROM query_metrics WHERE query_id = $1`

	var row queryMetricsRow
	err := r.db.GetContext(ctx, &row, query, queryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query metrics: %w", err)
	}
	return row.toModel(), nil
}

func (r *queryMetricsRepository) Finalize(ctx context.Context, metrics *models.QueryMetrics) error {
	row := queryMetricsRow{QueryMetrics: *metrics}
	row.MemoriesUsedArr = pq.StringArray(metrics.MemoriesUsed)
	if row.MemoriesUsedArr == nil {
		row.MemoriesUsedArr = pq.StringArray{}
	}

	query := `
		UPDATE query_metrics SET
			intent = :intent, agent_used = :agent_used,
			response_source = :response_source, answer = :answer,
			confidence = :confidence, search_latency_ms = :search_latency_ms,
			llm_latency_ms = :llm_latency_ms, total_latency_ms = :total_latency_ms,
			input_tokens = :input_tokens, output_tokens = :output_tokens,
			est_cost_usd = :est_cost_usd, memories_used = :memories_used
		WHERE query_id = :query_id`

	result, err := r.db.NamedExecContext(ctx, query, &row)
	if err != nil {
		return fmt.Errorf("failed to finalize query metrics: %w", err)
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

func (r *queryMetricsRepository) MarkEnriched(ctx context.Context, queryID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE query_metrics SET enriched = true WHERE query_id = $1`, queryID)
	if err != nil {
		return fmt.Errorf("failed to mark query enriched: %w", err)
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

func (r *queryMetricsRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.QueryMetrics, error) {
	query := `
		SELECT ` + queryMetricsColumns + `
		FROM query_metrics
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`

	var rows []queryMetricsRow
	if err := r.db.SelectContext(ctx, &rows, query, since.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to list query metrics: %w", err)
	}

	out := make([]*models.QueryMetrics, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (r *queryMetricsRepository) Stats(ctx context.Context, since time.Time) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_queries,
			COUNT(*) FILTER (WHERE response_source IN ($2, $3)) AS cache_hits,
			COUNT(*) FILTER (WHERE response_source = $4) AS error_responses,
			COALESCE(AVG(total_latency_ms), 0) AS avg_latency_ms,
			COALESCE(SUM(est_cost_usd), 0) AS total_cost_usd
		FROM query_metrics
		WHERE created_at >= $1`

	var stats UsageStats
	err := r.db.GetContext(ctx, &stats, query, since.UTC(),
		models.ResponseSourceSemanticCache, models.ResponseSourceExactCache, models.ResponseSourceError)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate query stats: %w", err)
	}
	return &stats, nil
}
