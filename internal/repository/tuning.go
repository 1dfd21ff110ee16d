package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

// TuningLogRepository persists auto-tuner decisions. A decision row is
// written before the matching runtime override takes effect, so the log
// always explains the current configuration.
type TuningLogRepository interface {
	Insert(ctx context.Context, decision *models.TuningDecision) error
	ListRecent(ctx context.Context, limit int) ([]*models.TuningDecision, error)
	// LatestForParameter returns the newest decision touching the
	// parameter, for restoring overrides after a restart.
	LatestForParameter(ctx context.Context, parameter string) (*models.TuningDecision, error)
}

type tuningLogRepository struct {
	db *sqlx.DB
}

// NewTuningLogRepository creates a postgres-backed TuningLogRepository.
func NewTuningLogRepository(db *sqlx.DB) TuningLogRepository {
	return &tuningLogRepository{db: db}
}

const tuningColumns = `decision_id, action, parameter, old_value, new_value,
	reason, confidence, sample_size, created_at`

func (r *tuningLogRepository) Insert(ctx context.Context, decision *models.TuningDecision) error {
	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO auto_tuning_log (
			decision_id, action, parameter, old_value, new_value,
			reason, confidence, sample_size, created_at
		) VALUES (
			:decision_id, :action, :parameter, :old_value, :new_value,
			:reason, :confidence, :sample_size, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, decision); err != nil {
		return fmt.Errorf("failed to insert tuning decision: %w", err)
	}
	return nil
}

func (r *tuningLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.TuningDecision, error) {
	query := `SELECT ` + tuningColumns + ` FROM auto_tuning_log ORDER BY created_at DESC LIMIT $1`

	var decisions []*models.TuningDecision
	if err := r.db.SelectContext(ctx, &decisions, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list tuning decisions: %w", err)
	}
	return decisions, nil
}

func (r *tuningLogRepository) LatestForParameter(ctx context.Context, parameter string) (*models.TuningDecision, error) {
	query := `
		SELECT ` + tuningColumns + `
		FROM auto_tuning_log
		WHERE parameter = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var decision models.TuningDecision
	err := r.db.GetContext(ctx, &decision, query, parameter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest tuning decision: %w", err)
	}
	return &decision, nil
}
