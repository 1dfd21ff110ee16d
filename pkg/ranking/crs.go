// Package ranking computes the composite relevance score (CRS) used to
// order retrieved memories. The score blends vector similarity with
// recency, tier, user feedback, and access frequency.
package ranking

import (
	"math"
	"time"

	"github.com/S-Corkum/recall/pkg/models"
)

// RecencyHalfLifeDays is the age at which the recency component halves.
const RecencyHalfLifeDays = 30.0

// NeutralSimilarity stands in for the similarity component when scoring at
// rest, outside any query (nightly decay recomputation).
const NeutralSimilarity = 0.5

// Weights control the contribution of each component. They are
// renormalized to sum 1.0 before scoring, so callers may express them in
// any consistent unit.
type Weights struct {
	Similarity float64 `json:"similarity" mapstructure:"similarity"`
	Recency    float64 `json:"recency" mapstructure:"recency"`
	Tier       float64 `json:"tier" mapstructure:"tier"`
	Feedback   float64 `json:"feedback" mapstructure:"feedback"`
	Frequency  float64 `json:"frequency" mapstructure:"frequency"`
}

// DefaultWeights is the production blend.
var DefaultWeights = Weights{
	Similarity: 0.4,
	Recency:    0.2,
	Tier:       0.2,
	Feedback:   0.1,
	Frequency:  0.1,
}

func (w Weights) sum() float64 {
	return w.Similarity + w.Recency + w.Tier + w.Feedback + w.Frequency
}

// normalized scales the weights to sum 1.0. A degenerate (zero or
// negative) set falls back to the defaults.
func (w Weights) normalized() Weights {
	total := w.sum()
	if total <= 0 {
		return DefaultWeights
	}
	return Weights{
		Similarity: w.Similarity / total,
		Recency:    w.Recency / total,
		Tier:       w.Tier / total,
		Feedback:   w.Feedback / total,
		Frequency:  w.Frequency / total,
	}
}

// Signals are the raw inputs for one candidate item. AvgRating, when
// present, is on the [-1, 1] scale; otherwise the thumbs counters drive
// the feedback component.
type Signals struct {
	Similarity  float64
	CreatedAt   time.Time
	Tier        models.MemoryTier
	AvgRating   *float64
	ThumbsUp    int
	ThumbsDown  int
	AccessCount int
}

// Scorer computes CRS values with a fixed weight blend.
type Scorer struct {
	weights Weights
	now     func() time.Time
}

// NewScorer creates a scorer. Weights are renormalized once up front.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{
		weights: weights.normalized(),
		now:     time.Now,
	}
}

// Weights returns the normalized blend in use.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score computes the composite relevance score for one candidate,
// clamped to [0, 1].
func (s *Scorer) Score(sig Signals) float64 {
	w := s.weights
	score := w.Similarity*clamp01(sig.Similarity) +
		w.Recency*RecencyScore(sig.CreatedAt, s.now()) +
		w.Tier*TierScore(sig.Tier) +
		w.Feedback*FeedbackScore(sig.AvgRating, sig.ThumbsUp, sig.ThumbsDown) +
		w.Frequency*FrequencyScore(sig.AccessCount)
	return clamp01(score)
}

// ScoreMemory scores a stored item against a query similarity.
func (s *Scorer) ScoreMemory(item *models.MemoryItem, similarity float64) float64 {
	return s.Score(SignalsFromMemory(item, similarity))
}

// ScoreAtRest recomputes an item's CRS outside any query, substituting a
// neutral similarity. Used by the nightly decay job.
func (s *Scorer) ScoreAtRest(item *models.MemoryItem) float64 {
	return s.Score(SignalsFromMemory(item, NeutralSimilarity))
}

// SignalsFromMemory maps a stored item to scoring inputs. The stored
// 1..5 star average is rescaled to [-1, 1].
func SignalsFromMemory(item *models.MemoryItem, similarity float64) Signals {
	sig := Signals{
		Similarity:  similarity,
		CreatedAt:   item.CreatedAt,
		Tier:        item.Tier,
		AccessCount: item.AccessCount,
	}
	if fs := item.FeedbackSummary; fs != nil {
		if fs.TotalRatings > 0 {
			scaled := (fs.AvgRating - 3) / 2
			sig.AvgRating = &scaled
		}
		sig.ThumbsUp = fs.ThumbsUp
		sig.ThumbsDown = fs.ThumbsDown
	}
	return sig
}

// RecencyScore decays exponentially with a 30-day half-life. Items newer
// than now (clock skew) score 1.
func RecencyScore(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	days := now.UTC().Sub(createdAt.UTC()).Hours() / 24
	if days <= 0 {
		return 1
	}
	return math.Exp(-days * math.Ln2 / RecencyHalfLifeDays)
}

// TierScore maps the tier multipliers {SHORT: 0.8, MID: 1.0, LONG: 1.2}
// linearly onto [0, 1]. Unknown tiers score as MID.
func TierScore(tier models.MemoryTier) float64 {
	var v float64
	switch tier {
	case models.TierShort:
		v = 0.8
	case models.TierLong:
		v = 1.2
	default:
		v = 1.0
	}
	return (v - 0.8) / 0.4
}

// FeedbackScore prefers an explicit average rating on [-1, 1]; otherwise
// it derives a thumbs ratio dampened toward neutral by sample size. No
// signal at all is neutral 0.5.
func FeedbackScore(avgRating *float64, thumbsUp, thumbsDown int) float64 {
	if avgRating != nil {
		avg := math.Max(-1, math.Min(1, *avgRating))
		return (avg + 1) / 2
	}

	n := thumbsUp + thumbsDown
	if n == 0 {
		return 0.5
	}
	ratio := float64(thumbsUp) / float64(n)
	damping := math.Min(1, float64(n)/10)
	return 0.5 + (ratio-0.5)*damping
}

// FrequencyScore grows logarithmically with access count and saturates at
// 100 accesses.
func FrequencyScore(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	n := math.Min(float64(accessCount), 100)
	return math.Log10(n+1) / math.Log10(101)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
