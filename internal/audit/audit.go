// Package audit records data movement: what entered the system, what
// was transformed, and what left for an external destination. Writes
// are best-effort; an audit failure never fails the operation it
// describes.
package audit

import (
	"context"

	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// Recorder is the audit surface the services use.
type Recorder interface {
	LogIngress(ctx context.Context, source, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{})
	LogTransform(ctx context.Context, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{})
	LogEgress(ctx context.Context, destination, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{})
}

type recorder struct {
	repo   repository.AuditRepository
	logger observability.Logger
}

// NewRecorder creates a Recorder over the audit repository.
func NewRecorder(repo repository.AuditRepository, logger observability.Logger) Recorder {
	return &recorder{repo: repo, logger: logger}
}

func (r *recorder) LogIngress(ctx context.Context, source, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{}) {
	r.write(ctx, &models.AuditEvent{
		Kind:           models.AuditIngress,
		Source:         source,
		Operation:      operation,
		ItemCount:      itemCount,
		Classification: classification,
		Metadata:       metadata,
	})
}

func (r *recorder) LogTransform(ctx context.Context, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{}) {
	r.write(ctx, &models.AuditEvent{
		Kind:           models.AuditTransform,
		Source:         "internal",
		Operation:      operation,
		ItemCount:      itemCount,
		Classification: classification,
		Metadata:       metadata,
	})
}

func (r *recorder) LogEgress(ctx context.Context, destination, operation string, itemCount int, classification models.DataClassification, metadata map[string]interface{}) {
	r.write(ctx, &models.AuditEvent{
		Kind:           models.AuditEgress,
		Source:         "internal",
		Operation:      operation,
		Destination:    destination,
		ItemCount:      itemCount,
		Classification: classification,
		Metadata:       metadata,
	})
}

func (r *recorder) write(ctx context.Context, event *models.AuditEvent) {
	if err := r.repo.Insert(ctx, event); err != nil {
		r.logger.Warn("Audit write failed", map[string]interface{}{
			"kind":      string(event.Kind),
			"operation": event.Operation,
			"error":     err.Error(),
		})
	}
}

// NewNoopRecorder returns a Recorder that drops everything, for tests
// and tools that do not audit.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

type noopRecorder struct{}

func (noopRecorder) LogIngress(context.Context, string, string, int, models.DataClassification, map[string]interface{}) {
}
func (noopRecorder) LogTransform(context.Context, string, int, models.DataClassification, map[string]interface{}) {
}
func (noopRecorder) LogEgress(context.Context, string, string, int, models.DataClassification, map[string]interface{}) {
}
