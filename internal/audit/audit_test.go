package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

type fakeAuditRepo struct {
	events []*models.AuditEvent
	err    error
}

func (f *fakeAuditRepo) Insert(ctx context.Context, event *models.AuditEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditRepo) ListRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	return f.events, nil
}

func (f *fakeAuditRepo) ListByKind(ctx context.Context, kind models.AuditKind, since time.Time, limit int) ([]*models.AuditEvent, error) {
	return f.events, nil
}

func TestRecorder(t *testing.T) {
	t.Run("EgressCarriesDestination", func(t *testing.T) {
		repo := &fakeAuditRepo{}
		rec := NewRecorder(repo, observability.NewNoopLogger())

		rec.LogEgress(context.Background(), "claude", "query_context", 5,
			models.ClassificationInternal, map[string]interface{}{"query_id": "q-1"})

		require.Len(t, repo.events, 1)
		event := repo.events[0]
		assert.Equal(t, models.AuditEgress, event.Kind)
		assert.Equal(t, "claude", event.Destination)
		assert.Equal(t, 5, event.ItemCount)
		assert.Equal(t, models.ClassificationInternal, event.Classification)
	})

	t.Run("IngressRecordsSource", func(t *testing.T) {
		repo := &fakeAuditRepo{}
		rec := NewRecorder(repo, observability.NewNoopLogger())

		rec.LogIngress(context.Background(), "gmail", "ingest_email", 12,
			models.ClassificationConfidential, nil)

		require.Len(t, repo.events, 1)
		assert.Equal(t, models.AuditIngress, repo.events[0].Kind)
		assert.Equal(t, "gmail", repo.events[0].Source)
	})

	t.Run("WriteFailureIsSwallowed", func(t *testing.T) {
		repo := &fakeAuditRepo{err: errors.New("relational store down")}
		rec := NewRecorder(repo, observability.NewNoopLogger())

		// Must not panic or surface the error.
		rec.LogTransform(context.Background(), "compaction_l2", 40, models.ClassificationInternal, nil)
		assert.Empty(t, repo.events)
	})
}
