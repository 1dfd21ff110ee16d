package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/recall/pkg/models"
)

// AuditRepository appends to the audit log. Rows are never updated or
// deleted by the application.
type AuditRepository interface {
	Insert(ctx context.Context, event *models.AuditEvent) error
	ListRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error)
	ListByKind(ctx context.Context, kind models.AuditKind, since time.Time, limit int) ([]*models.AuditEvent, error)
}

type auditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a postgres-backed AuditRepository.
func NewAuditRepository(db *sqlx.DB) AuditRepository {
	return &auditRepository{db: db}
}

type auditRow struct {
	models.AuditEvent
	MetadataJSON jsonText `db:"metadata"`
}

func (row *auditRow) toModel() (*models.AuditEvent, error) {
	event := row.AuditEvent
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
		}
	}
	return &event, nil
}

const auditColumns = `event_id, kind, source, operation, destination, item_count,
	data_classification, metadata, timestamp`

func (r *auditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	row := auditRow{AuditEvent: *event}
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		row.MetadataJSON = data
	}

	query := `
		INSERT INTO audit_logs (
			event_id, kind, source, operation, destination, item_count,
			data_classification, metadata, timestamp
		) VALUES (
			:event_id, :kind, :source, :operation, :destination, :item_count,
			:data_classification, :metadata, :timestamp
		)`

	if _, err := r.db.NamedExecContext(ctx, query, &row); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (r *auditRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs ORDER BY timestamp DESC LIMIT $1`

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return toAuditEvents(rows)
}

func (r *auditRepository) ListByKind(ctx context.Context, kind models.AuditKind, since time.Time, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE kind = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
		LIMIT $3`

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, kind, since.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to list audit events by kind: %w", err)
	}
	return toAuditEvents(rows)
}

func toAuditEvents(rows []auditRow) ([]*models.AuditEvent, error) {
	events := make([]*models.AuditEvent, 0, len(rows))
	for i := range rows {
		event, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
