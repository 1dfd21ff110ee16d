package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const confidentAnswer = "Goroutines are scheduled by the Go runtime onto a small pool of OS threads, " +
	"and channels provide typed, synchronized communication between them."

func TestValidatorScore(t *testing.T) {
	v := NewValidator()

	t.Run("empty answer short circuits to zero", func(t *testing.T) {
		result := v.Score("   \n\t  ", Evidence{HasDocuments: true})
		assert.Zero(t, result.Confidence)
		assert.False(t, result.ShouldStore)
		assert.Equal(t, ReasonLowConf, result.FlaggedReason)
	})

	t.Run("grounded complete answer scores full confidence", func(t *testing.T) {
		result := v.Score(confidentAnswer, Evidence{HasDocuments: true, SourceCount: 3})
		assert.InDelta(t, 1.0, result.Confidence, 1e-9)
		assert.True(t, result.ShouldStore)
		assert.Empty(t, result.FlaggedReason)
	})

	t.Run("conversation grounding is still storable", func(t *testing.T) {
		result := v.Score(confidentAnswer, Evidence{HasConversation: true})
		assert.InDelta(t, 0.88, result.Confidence, 1e-9)
		assert.True(t, result.ShouldStore)
	})

	t.Run("ungrounded answer is flagged", func(t *testing.T) {
		result := v.Score(confidentAnswer, Evidence{})
		assert.InDelta(t, 0.72, result.Confidence, 1e-9)
		assert.False(t, result.ShouldStore)
		assert.Equal(t, ReasonNoSources, result.FlaggedReason)
	})

	t.Run("short answers lose completeness only", func(t *testing.T) {
		result := v.Score("Use channels.", Evidence{HasDocuments: true})
		assert.InDelta(t, 0.9, result.Confidence, 1e-9)
		assert.True(t, result.ShouldStore)
	})

	t.Run("hedging decays confidence per distinct phrase", func(t *testing.T) {
		one := v.Score(confidentAnswer+" This might change in future releases.",
			Evidence{HasDocuments: true})
		assert.InDelta(t, 0.92, one.Confidence, 1e-9)
		assert.True(t, one.ShouldStore)

		three := v.Score(confidentAnswer+" This might change. It could also differ, possibly per platform.",
			Evidence{HasDocuments: true})
		assert.InDelta(t, 0.76, three.Confidence, 1e-9)
		assert.False(t, three.ShouldStore)
		assert.Equal(t, ReasonUncertainty, three.FlaggedReason)
	})

	t.Run("repeated hedge counts once", func(t *testing.T) {
		result := v.Score("It might work, or it might not.", Evidence{HasDocuments: true})
		assert.InDelta(t, 0.82, result.Confidence, 1e-9)
		assert.True(t, result.ShouldStore)
	})

	t.Run("uncertainty floors at 0.3", func(t *testing.T) {
		hedged := confidentAnswer +
			" It might vary. It could break. Possibly. Perhaps. Maybe the behavior is unclear."
		result := v.Score(hedged, Evidence{HasDocuments: true})
		// 0.4 + 0.2 + 0.4*0.3 with six hedges floored.
		assert.InDelta(t, 0.72, result.Confidence, 1e-9)
		assert.False(t, result.ShouldStore)
	})

	t.Run("hedge words only match on word boundaries", func(t *testing.T) {
		result := v.Score(strings.ReplaceAll(confidentAnswer, "runtime", "mighty runtime"),
			Evidence{HasDocuments: true})
		assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	})

	t.Run("all causes concatenate", func(t *testing.T) {
		result := v.Score("It might rain.", Evidence{})
		// trust 0.3, completeness 0.5, one hedge.
		assert.InDelta(t, 0.54, result.Confidence, 1e-9)
		assert.False(t, result.ShouldStore)
		assert.Equal(t,
			ReasonNoSources+","+ReasonUncertainty+","+ReasonIncomplete,
			result.FlaggedReason)
	})
}

func TestValidatorThresholdOverride(t *testing.T) {
	strict := NewValidatorWithThreshold(0.9)

	result := strict.Score(confidentAnswer, Evidence{HasConversation: true})
	assert.InDelta(t, 0.88, result.Confidence, 1e-9)
	assert.False(t, result.ShouldStore)

	t.Run("invalid threshold falls back to default", func(t *testing.T) {
		v := NewValidatorWithThreshold(-1)
		assert.True(t, v.Score(confidentAnswer, Evidence{HasConversation: true}).ShouldStore)
	})
}
