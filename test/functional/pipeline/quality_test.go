package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/S-Corkum/recall/pkg/quality"
)

var _ = Describe("Answer confidence", func() {
	var validator *quality.Validator

	// Long enough for full completeness marks, free of hedging language.
	const groundedAnswer = "The deploy pipeline promotes images through staging before production and records each step in the audit trail."

	BeforeEach(func() {
		validator = quality.NewValidator()
	})

	Context("grounding", func() {
		It("fully trusts an answer backed by retrieved memories", func() {
			verdict := validator.Score(groundedAnswer, quality.Evidence{HasDocuments: true, SourceCount: 3})
			Expect(verdict.Confidence).To(BeNumerically("~", 1.0, 0.0001))
			Expect(verdict.ShouldStore).To(BeTrue())
			Expect(verdict.FlaggedReason).To(BeEmpty())
		})

		It("stores a conversation-grounded answer at reduced confidence", func() {
			verdict := validator.Score(groundedAnswer, quality.Evidence{HasConversation: true})
			Expect(verdict.Confidence).To(BeNumerically("~", 0.88, 0.0001))
			Expect(verdict.ShouldStore).To(BeTrue())
		})

		It("flags an ungrounded answer", func() {
			verdict := validator.Score(groundedAnswer, quality.Evidence{})
			Expect(verdict.Confidence).To(BeNumerically("~", 0.72, 0.0001))
			Expect(verdict.ShouldStore).To(BeFalse())
			Expect(verdict.FlaggedReason).To(Equal(quality.ReasonNoSources))
		})
	})

	Context("hedging language", func() {
		It("tolerates a single hedge in a grounded answer", func() {
			answer := groundedAnswer + " The rollback path might need a separate review."
			verdict := validator.Score(answer, quality.Evidence{HasDocuments: true})
			Expect(verdict.Confidence).To(BeNumerically("~", 0.92, 0.0001))
			Expect(verdict.ShouldStore).To(BeTrue())
		})

		It("flags an answer hedged three ways", func() {
			answer := "This might be the stale cache, though the root cause is unclear and perhaps the index needs a rebuild too."
			verdict := validator.Score(answer, quality.Evidence{HasDocuments: true})
			Expect(verdict.Confidence).To(BeNumerically("~", 0.76, 0.0001))
			Expect(verdict.ShouldStore).To(BeFalse())
			Expect(verdict.FlaggedReason).To(Equal(quality.ReasonUncertainty))
		})

		It("floors the uncertainty component", func() {
			answer := "It depends on the region; this might work, could possibly regress, and maybe the fallback path handles it anyway."
			verdict := validator.Score(answer, quality.Evidence{HasDocuments: true})
			Expect(verdict.Confidence).To(BeNumerically("~", 0.72, 0.0001))
			Expect(verdict.ShouldStore).To(BeFalse())
		})
	})

	Context("completeness", func() {
		It("stores a short but well-grounded answer", func() {
			verdict := validator.Score("Rotate the key monthly.", quality.Evidence{HasDocuments: true})
			Expect(verdict.Confidence).To(BeNumerically("~", 0.9, 0.0001))
			Expect(verdict.ShouldStore).To(BeTrue())
		})

		It("accumulates reasons for a short, weakly grounded answer", func() {
			verdict := validator.Score("Rotate the key monthly.", quality.Evidence{HasConversation: true})
			Expect(verdict.Confidence).To(BeNumerically("~", 0.78, 0.0001))
			Expect(verdict.ShouldStore).To(BeFalse())
			Expect(verdict.FlaggedReason).To(Equal(quality.ReasonNoSources + "," + quality.ReasonIncomplete))
		})
	})

	Context("edge cases", func() {
		It("rejects an empty answer outright", func() {
			verdict := validator.Score("   ", quality.Evidence{HasDocuments: true})
			Expect(verdict.Confidence).To(BeZero())
			Expect(verdict.ShouldStore).To(BeFalse())
			Expect(verdict.FlaggedReason).To(Equal(quality.ReasonLowConf))
		})

		It("honors a tuned threshold", func() {
			tuned := quality.NewValidatorWithThreshold(0.7)
			verdict := tuned.Score(groundedAnswer, quality.Evidence{})
			Expect(verdict.Confidence).To(BeNumerically("~", 0.72, 0.0001))
			Expect(verdict.ShouldStore).To(BeTrue())
		})

		It("falls back to the default for an impossible threshold", func() {
			broken := quality.NewValidatorWithThreshold(1.5)
			verdict := broken.Score(groundedAnswer, quality.Evidence{HasConversation: true})
			Expect(verdict.ShouldStore).To(BeTrue())
			Expect(verdict.Confidence).To(BeNumerically("~", 0.88, 0.0001))
		})
	})
})
