// Package worker runs the background half of the service: the job
// scheduler that drives compaction, decay, dedup, retention,
// reconciliation and tuning, plus the queue consumer that ingests
// connector events.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/S-Corkum/recall/internal/audit"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

type scheduleKind int

const (
	scheduleDaily scheduleKind = iota
	scheduleWeekly
	scheduleEvery
)

// Schedule says when a job is due. Resolution is one minute; a daily or
// weekly schedule fires at most once within its minute.
type Schedule struct {
	kind    scheduleKind
	weekday time.Weekday
	hour    int
	minute  int
	every   time.Duration
}

// Daily fires once per day at hour:minute.
func Daily(hour, minute int) Schedule {
	return Schedule{kind: scheduleDaily, hour: hour, minute: minute}
}

// Weekly fires once per week at day hour:minute.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return Schedule{kind: scheduleWeekly, weekday: day, hour: hour, minute: minute}
}

// Every fires when at least interval has passed since the last run.
func Every(interval time.Duration) Schedule {
	return Schedule{kind: scheduleEvery, every: interval}
}

func (s Schedule) due(now, lastRun time.Time) bool {
	switch s.kind {
	case scheduleEvery:
		interval := s.every
		if interval <= 0 {
			interval = time.Hour
		}
		return lastRun.IsZero() || now.Sub(lastRun) >= interval
	case scheduleDaily:
		if now.Hour() != s.hour || now.Minute() != s.minute {
			return false
		}
		return !sameMinute(now, lastRun)
	case scheduleWeekly:
		if now.Weekday() != s.weekday || now.Hour() != s.hour || now.Minute() != s.minute {
			return false
		}
		return !sameMinute(now, lastRun)
	}
	return false
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

func (s Schedule) String() string {
	switch s.kind {
	case scheduleDaily:
		return fmt.Sprintf("daily@%02d:%02d", s.hour, s.minute)
	case scheduleWeekly:
		return fmt.Sprintf("weekly@%s %02d:%02d", s.weekday, s.hour, s.minute)
	default:
		return "every " + s.every.String()
	}
}

// Job is one scheduled task. Run returns fields describing what the run
// did; they land in the audit record and the log line.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) (map[string]interface{}, error)
}

// Scheduler drives jobs off a minute ticker. Each due job runs in its
// own goroutine; a job that is still running when its next slot comes
// around is skipped, not stacked.
type Scheduler struct {
	jobs    []Job
	audit   audit.Recorder
	logger  observability.Logger
	metrics observability.MetricsClient

	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running map[string]bool
	lastRun map[string]time.Time
}

// NewScheduler creates a scheduler over the given jobs.
func NewScheduler(jobs []Job, recorder audit.Recorder, logger observability.Logger, metrics observability.MetricsClient) *Scheduler {
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Scheduler{
		jobs:     jobs,
		audit:    recorder,
		logger:   logger,
		metrics:  metrics,
		interval: time.Minute,
		now:      time.Now,
		running:  make(map[string]bool),
		lastRun:  make(map[string]time.Time),
	}
}

// Run ticks until the context is canceled, then waits for in-flight
// jobs to finish. Interval-based jobs first fire one full interval
// after start; clock-based jobs fire at their next wall-clock slot.
func (s *Scheduler) Run(ctx context.Context) error {
	start := s.now()
	s.mu.Lock()
	for _, job := range s.jobs {
		if job.Schedule.kind == scheduleEvery {
			s.lastRun[job.Name] = start
		}
	}
	s.mu.Unlock()

	s.logger.Info("Job scheduler started", map[string]interface{}{
		"jobs": len(s.jobs),
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.dispatchDue(ctx, &wg)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context, wg *sync.WaitGroup) {
	now := s.now()
	for _, job := range s.jobs {
		s.mu.Lock()
		if s.running[job.Name] || !job.Schedule.due(now, s.lastRun[job.Name]) {
			s.mu.Unlock()
			continue
		}
		s.running[job.Name] = true
		s.lastRun[job.Name] = now
		s.mu.Unlock()

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runJob(ctx, job)
			s.mu.Lock()
			s.running[job.Name] = false
			s.mu.Unlock()
		}(job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	start := time.Now()
	s.audit.LogTransform(ctx, "job:"+job.Name+":start", 0, models.ClassificationInternal, map[string]interface{}{
		"schedule": job.Schedule.String(),
	})

	fields, err := job.Run(ctx)
	duration := time.Since(start)

	status := "complete"
	if err != nil {
		status = "failed"
	}
	meta := map[string]interface{}{
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}
	for k, v := range fields {
		meta[k] = v
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	s.audit.LogTransform(ctx, "job:"+job.Name+":"+status, 0, models.ClassificationInternal, meta)
	s.metrics.IncrementCounterWithLabels("jobs_total", 1, map[string]string{
		"job":    job.Name,
		"status": status,
	})
	s.metrics.RecordTimer("job_duration_seconds", duration, map[string]string{"job": job.Name})

	if err != nil {
		s.logger.Error("Job failed", map[string]interface{}{
			"job":         job.Name,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
		return
	}
	logFields := map[string]interface{}{
		"job":         job.Name,
		"duration_ms": duration.Milliseconds(),
	}
	for k, v := range fields {
		logFields[k] = v
	}
	s.logger.Info("Job complete", logFields)
}
