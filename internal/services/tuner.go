package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/cache"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// TunerConfig holds the thresholds for the feedback analyzers.
type TunerConfig struct {
	// Window bounds how far back each analyzer looks.
	Window time.Duration
	// MinCacheSamples is the minimum rated cache answers before the
	// cache analyzer may act.
	MinCacheSamples int
	// CacheQualityFloor disables the semantic cache when the average
	// rating on cache-sourced answers falls below it.
	CacheQualityFloor float64
	// MinModelSamples is the minimum ratings per model before routing
	// may switch.
	MinModelSamples int
	// ModelLead is how far a challenger must outscore the current
	// default before routing switches.
	ModelLead float64
	// CommentShare is the fraction of comments complaining in one
	// direction needed to step the context limit.
	CommentShare float64
	// MinCommentSamples is the minimum comments before the context
	// analyzer may act.
	MinCommentSamples int
	// ContextMin and ContextMax clamp the tuned context limit.
	ContextMin int
	ContextMax int
}

// DefaultTunerConfig returns the production thresholds.
func DefaultTunerConfig() TunerConfig {
	return TunerConfig{
		Window:            30 * 24 * time.Hour,
		MinCacheSamples:   5,
		CacheQualityFloor: 3.0,
		MinModelSamples:   3,
		ModelLead:         0.5,
		CommentShare:      0.20,
		MinCommentSamples: 5,
		ContextMin:        5,
		ContextMax:        20,
	}
}

// TunerState is the admin view of the tuner: live overrides plus the
// recent decision log.
type TunerState struct {
	Overrides map[string]string        `json:"overrides"`
	Decisions []*models.TuningDecision `json:"decisions"`
}

// Tuner closes the feedback loop: it reads rating aggregates and adjusts
// runtime configuration. Each run applies at most one decision, and the
// decision row is persisted before the override changes so a crash
// between the two leaves a visible record rather than a silent change.
type Tuner struct {
	config      TunerConfig
	feedback    repository.FeedbackRepository
	tuningLog   repository.TuningLogRepository
	overrides   *Overrides
	answerCache *cache.AnswerCache
	registry    *agents.Registry
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// NewTuner creates the auto-tuner.
func NewTuner(config TunerConfig, feedback repository.FeedbackRepository, tuningLog repository.TuningLogRepository, overrides *Overrides, answerCache *cache.AnswerCache, registry *agents.Registry, logger observability.Logger, metrics observability.MetricsClient) *Tuner {
	if config.Window <= 0 {
		config = DefaultTunerConfig()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if overrides == nil {
		overrides = NewOverrides()
	}
	return &Tuner{
		config:      config,
		feedback:    feedback,
		tuningLog:   tuningLog,
		overrides:   overrides,
		answerCache: answerCache,
		registry:    registry,
		logger:      logger,
		metrics:     metrics,
	}
}

// RunOnce evaluates the analyzers in priority order and applies the
// first decision that fires. Returns the applied decision, or nil when
// nothing needed changing.
func (t *Tuner) RunOnce(ctx context.Context) (*models.TuningDecision, error) {
	since := time.Now().Add(-t.config.Window)

	analyzers := []func(context.Context, time.Time) (*models.TuningDecision, error){
		t.analyzeCacheQuality,
		t.analyzeModelRouting,
		t.analyzeContextLimit,
	}
	for _, analyze := range analyzers {
		decision, err := analyze(ctx, since)
		if err != nil {
			return nil, err
		}
		if decision == nil {
			continue
		}
		if err := t.apply(ctx, decision); err != nil {
			return nil, err
		}
		return decision, nil
	}
	return nil, nil
}

// Restore re-applies the latest logged decision per parameter without
// writing new rows. Called on startup so overrides survive restarts.
func (t *Tuner) Restore(ctx context.Context) error {
	for _, parameter := range []string{OverrideSemanticCacheEnabled, OverrideDefaultModel, OverrideContextLimit} {
		decision, err := t.tuningLog.LatestForParameter(ctx, parameter)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			return fmt.Errorf("failed to restore %s: %w", parameter, err)
		}
		t.enact(decision)
		t.logger.Info("Restored tuning override", map[string]interface{}{
			"parameter": decision.Parameter,
			"value":     decision.NewValue,
		})
	}
	return nil
}

// State returns the live overrides and recent decisions.
func (t *Tuner) State(ctx context.Context) (*TunerState, error) {
	decisions, err := t.tuningLog.ListRecent(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to list tuning decisions: %w", err)
	}
	return &TunerState{
		Overrides: t.overrides.Snapshot(),
		Decisions: decisions,
	}, nil
}

// apply persists the decision, then enacts it.
func (t *Tuner) apply(ctx context.Context, decision *models.TuningDecision) error {
	if err := t.tuningLog.Insert(ctx, decision); err != nil {
		return fmt.Errorf("failed to log tuning decision: %w", err)
	}
	t.enact(decision)
	t.logger.Info("Applied tuning decision", map[string]interface{}{
		"action":      string(decision.Action),
		"parameter":   decision.Parameter,
		"old_value":   decision.OldValue,
		"new_value":   decision.NewValue,
		"reason":      decision.Reason,
		"sample_size": decision.SampleSize,
	})
	if t.metrics != nil {
		t.metrics.IncrementCounterWithLabels("tuning_decisions_total", 1, map[string]string{
			"action": string(decision.Action),
		})
	}
	return nil
}

func (t *Tuner) enact(decision *models.TuningDecision) {
	t.overrides.Set(decision.Parameter, decision.NewValue)
	if decision.Parameter == OverrideSemanticCacheEnabled && t.answerCache != nil {
		enabled, err := strconv.ParseBool(decision.NewValue)
		if err == nil {
			t.answerCache.SetEnabled(enabled)
		}
	}
}

// analyzeCacheQuality disables the semantic cache when rated cache
// answers average below the floor.
func (t *Tuner) analyzeCacheQuality(ctx context.Context, since time.Time) (*models.TuningDecision, error) {
	cacheEnabled := t.answerCache != nil && t.answerCache.Enabled()
	cacheEnabled = t.overrides.Bool(OverrideSemanticCacheEnabled, cacheEnabled)
	if !cacheEnabled {
		return nil, nil
	}

	avg, n, err := t.feedback.CacheQualityStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache quality stats: %w", err)
	}
	if n < t.config.MinCacheSamples || avg >= t.config.CacheQualityFloor {
		return nil, nil
	}
	return &models.TuningDecision{
		Action:     models.TuningDisableSemanticCache,
		Parameter:  OverrideSemanticCacheEnabled,
		OldValue:   "true",
		NewValue:   "false",
		Reason:     fmt.Sprintf("cache answers average %.2f over %d ratings, below floor %.2f", avg, n, t.config.CacheQualityFloor),
		Confidence: sampleConfidence(n),
		SampleSize: n,
	}, nil
}

// analyzeModelRouting switches the default model when a challenger
// clearly outscores it.
func (t *Tuner) analyzeModelRouting(ctx context.Context, since time.Time) (*models.TuningDecision, error) {
	ratings, err := t.feedback.ModelRatingStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read model rating stats: %w", err)
	}
	if len(ratings) == 0 {
		return nil, nil
	}

	current := t.overrides.String(OverrideDefaultModel, string(t.registry.Default()))
	var currentAvg float64
	for _, r := range ratings {
		if r.Model == current {
			currentAvg = r.AvgRating
			break
		}
	}

	for _, challenger := range ratings {
		if challenger.Model == current {
			continue
		}
		if challenger.SampleSize < t.config.MinModelSamples {
			continue
		}
		if challenger.AvgRating <= currentAvg+t.config.ModelLead {
			continue
		}
		if !t.registry.Has(agents.Agent(challenger.Model)) {
			continue
		}
		return &models.TuningDecision{
			Action:     models.TuningSwitchModel,
			Parameter:  OverrideDefaultModel,
			OldValue:   current,
			NewValue:   challenger.Model,
			Reason:     fmt.Sprintf("%s averages %.2f over %d ratings vs %.2f for %s", challenger.Model, challenger.AvgRating, challenger.SampleSize, currentAvg, current),
			Confidence: sampleConfidence(challenger.SampleSize),
			SampleSize: challenger.SampleSize,
		}, nil
	}
	return nil, nil
}

// Comment phrases that vote the context window up or down.
var (
	tooMuchPhrases = []string{"too many", "too much context", "too long", "irrelevant context", "off-topic"}
	tooFewPhrases  = []string{"too few", "not enough context", "more context", "missing context", "forgot"}
)

// analyzeContextLimit steps the context limit when a clear share of
// comments complains in one direction.
func (t *Tuner) analyzeContextLimit(ctx context.Context, since time.Time) (*models.TuningDecision, error) {
	comments, err := t.feedback.ListCommentsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback comments: %w", err)
	}
	if len(comments) < t.config.MinCommentSamples {
		return nil, nil
	}

	var tooMuch, tooFew int
	for _, comment := range comments {
		lower := strings.ToLower(comment)
		if containsAny(lower, tooMuchPhrases) {
			tooMuch++
		} else if containsAny(lower, tooFewPhrases) {
			tooFew++
		}
	}

	total := len(comments)
	current := t.overrides.Int(OverrideContextLimit, DefaultContextLimit)

	if float64(tooMuch)/float64(total) > t.config.CommentShare {
		next := current - 2
		if next < t.config.ContextMin {
			next = t.config.ContextMin
		}
		if next == current {
			return nil, nil
		}
		return t.contextDecision(models.TuningReduceContextLimit, current, next, tooMuch, total), nil
	}
	if float64(tooFew)/float64(total) > t.config.CommentShare {
		next := current + 2
		if next > t.config.ContextMax {
			next = t.config.ContextMax
		}
		if next == current {
			return nil, nil
		}
		return t.contextDecision(models.TuningIncreaseContextLimit, current, next, tooFew, total), nil
	}
	return nil, nil
}

func (t *Tuner) contextDecision(action models.TuningAction, current, next, votes, total int) *models.TuningDecision {
	return &models.TuningDecision{
		Action:     action,
		Parameter:  OverrideContextLimit,
		OldValue:   strconv.Itoa(current),
		NewValue:   strconv.Itoa(next),
		Reason:     fmt.Sprintf("%d of %d comments complain about context size", votes, total),
		Confidence: sampleConfidence(votes),
		SampleSize: total,
	}
}

func containsAny(s string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

// sampleConfidence grows linearly with sample size and saturates at ten
// samples.
func sampleConfidence(n int) float64 {
	c := float64(n) / 10
	if c > 1 {
		return 1
	}
	return c
}
