package pipeline_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/ranking"
)

var _ = Describe("Composite relevance scoring", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Now().UTC()
	})

	Context("recency component", func() {
		It("halves after one half-life", func() {
			created := now.Add(-time.Duration(ranking.RecencyHalfLifeDays*24) * time.Hour)
			Expect(ranking.RecencyScore(created, now)).To(BeNumerically("~", 0.5, 0.001))
		})

		It("treats future timestamps as brand new", func() {
			Expect(ranking.RecencyScore(now.Add(time.Hour), now)).To(Equal(1.0))
		})

		It("scores an unset timestamp as zero", func() {
			Expect(ranking.RecencyScore(time.Time{}, now)).To(BeZero())
		})

		It("decays monotonically", func() {
			week := ranking.RecencyScore(now.AddDate(0, 0, -7), now)
			month := ranking.RecencyScore(now.AddDate(0, -1, 0), now)
			year := ranking.RecencyScore(now.AddDate(-1, 0, 0), now)
			Expect(week).To(BeNumerically(">", month))
			Expect(month).To(BeNumerically(">", year))
		})
	})

	Context("tier component", func() {
		It("spreads the tiers across the unit interval", func() {
			Expect(ranking.TierScore(models.TierShort)).To(BeNumerically("~", 0.0, 0.0001))
			Expect(ranking.TierScore(models.TierMid)).To(BeNumerically("~", 0.5, 0.0001))
			Expect(ranking.TierScore(models.TierLong)).To(BeNumerically("~", 1.0, 0.0001))
		})

		It("treats an unknown tier as MID", func() {
			Expect(ranking.TierScore(models.MemoryTier("EPHEMERAL"))).To(BeNumerically("~", 0.5, 0.0001))
		})
	})

	Context("feedback component", func() {
		It("prefers an explicit average rating", func() {
			avg := 1.0
			Expect(ranking.FeedbackScore(&avg, 0, 50)).To(Equal(1.0))
		})

		It("clamps out-of-range averages", func() {
			avg := 3.0
			Expect(ranking.FeedbackScore(&avg, 0, 0)).To(Equal(1.0))
		})

		It("is neutral with no signal at all", func() {
			Expect(ranking.FeedbackScore(nil, 0, 0)).To(Equal(0.5))
		})

		It("dampens a thumbs ratio from a small sample", func() {
			// One thumbs up out of one vote pulls only 1/10 of the way up.
			Expect(ranking.FeedbackScore(nil, 1, 0)).To(BeNumerically("~", 0.55, 0.0001))
		})

		It("trusts a large thumbs sample fully", func() {
			Expect(ranking.FeedbackScore(nil, 10, 0)).To(Equal(1.0))
			Expect(ranking.FeedbackScore(nil, 0, 10)).To(BeZero())
		})
	})

	Context("frequency component", func() {
		It("scores never-accessed items as zero", func() {
			Expect(ranking.FrequencyScore(0)).To(BeZero())
		})

		It("saturates at one hundred accesses", func() {
			Expect(ranking.FrequencyScore(100)).To(Equal(1.0))
			Expect(ranking.FrequencyScore(100000)).To(Equal(1.0))
		})

		It("grows sublinearly", func() {
			ten := ranking.FrequencyScore(10)
			twenty := ranking.FrequencyScore(20)
			Expect(twenty - ten).To(BeNumerically("<", ten))
		})
	})

	Context("composite score", func() {
		It("reaches one when every signal is perfect", func() {
			scorer := ranking.NewScorer(ranking.DefaultWeights)
			avg := 1.0
			score := scorer.Score(ranking.Signals{
				Similarity:  1.0,
				CreatedAt:   now,
				Tier:        models.TierLong,
				AvgRating:   &avg,
				AccessCount: 100,
			})
			Expect(score).To(BeNumerically("~", 1.0, 0.0001))
		})

		It("renormalizes weights expressed in any unit", func() {
			doubled := ranking.Weights{
				Similarity: 0.8,
				Recency:    0.4,
				Tier:       0.4,
				Feedback:   0.2,
				Frequency:  0.2,
			}
			item := &models.MemoryItem{CreatedAt: now.AddDate(0, 0, -10), Tier: models.TierMid, AccessCount: 5}
			a := ranking.NewScorer(ranking.DefaultWeights).ScoreMemory(item, 0.9)
			b := ranking.NewScorer(doubled).ScoreMemory(item, 0.9)
			Expect(b).To(BeNumerically("~", a, 0.0001))
		})

		It("falls back to the default blend for degenerate weights", func() {
			scorer := ranking.NewScorer(ranking.Weights{})
			Expect(scorer.Weights()).To(Equal(ranking.DefaultWeights))
		})

		It("substitutes a neutral similarity when scoring at rest", func() {
			scorer := ranking.NewScorer(ranking.DefaultWeights)
			item := &models.MemoryItem{CreatedAt: now.AddDate(0, 0, -3), Tier: models.TierLong, AccessCount: 12}
			Expect(scorer.ScoreAtRest(item)).To(BeNumerically("~", scorer.ScoreMemory(item, ranking.NeutralSimilarity), 0.0001))
		})
	})

	Context("signals from a stored item", func() {
		It("rescales the star average onto [-1, 1]", func() {
			item := &models.MemoryItem{
				FeedbackSummary: &models.FeedbackSummary{TotalRatings: 4, AvgRating: 5},
			}
			sig := ranking.SignalsFromMemory(item, 0.5)
			Expect(sig.AvgRating).NotTo(BeNil())
			Expect(*sig.AvgRating).To(Equal(1.0))
		})

		It("leaves the average unset without ratings", func() {
			item := &models.MemoryItem{
				FeedbackSummary: &models.FeedbackSummary{ThumbsUp: 2},
			}
			sig := ranking.SignalsFromMemory(item, 0.5)
			Expect(sig.AvgRating).To(BeNil())
			Expect(sig.ThumbsUp).To(Equal(2))
		})
	})
})
