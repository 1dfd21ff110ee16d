package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/S-Corkum/recall/internal/services"
)

// StandardJobs builds the maintenance schedule: topic compaction daily
// at 02:00, domain compaction Monday 02:30, score decay daily at 03:00,
// dedup Sunday 04:00, retention Sunday 05:00, vector reconciliation and
// the auto-tuner hourly.
func StandardJobs(compactor *services.Compactor, maintainer *services.Maintainer, reconciler *services.Reconciler, tuner *services.Tuner) []Job {
	return []Job{
		{
			Name:     "compaction_topics",
			Schedule: Daily(2, 0),
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				stats, err := compactor.RunTopics(ctx)
				return statsFields(stats), err
			},
		},
		{
			Name:     "compaction_domains",
			Schedule: Weekly(time.Monday, 2, 30),
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				stats, err := compactor.RunDomains(ctx)
				return statsFields(stats), err
			},
		},
		{
			Name:     "crs_decay",
			Schedule: Daily(3, 0),
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				stats, err := maintainer.RunDecay(ctx)
				return statsFields(stats), err
			},
		},
		{
			Name:     "dedup_sweep",
			Schedule: Weekly(time.Sunday, 4, 0),
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				stats, err := maintainer.RunDedup(ctx)
				return statsFields(stats), err
			},
		},
		{
			Name:     "retention_cleanup",
			Schedule: Weekly(time.Sunday, 5, 0),
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				stats, err := maintainer.RunRetention(ctx)
				return statsFields(stats), err
			},
		},
		{
			Name:     "vector_reconcile",
			Schedule: Every(time.Hour),
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				stats, err := reconciler.Run(ctx)
				return statsFields(stats), err
			},
		},
		{
			Name:     "auto_tuner",
			Schedule: Every(time.Hour),
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				decision, err := tuner.RunOnce(ctx)
				if decision == nil {
					return nil, err
				}
				return statsFields(decision), err
			},
		},
	}
}

// statsFields flattens a stats struct into audit/log fields through its
// JSON form.
func statsFields(v interface{}) map[string]interface{} {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}
