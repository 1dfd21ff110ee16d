// Package quality gates which generated answers are trustworthy enough to
// persist back into memory. Confidence blends source trust, answer
// completeness, and a hedging-language scan.
package quality

import (
	"regexp"
	"strings"

	"github.com/S-Corkum/recall/pkg/models"
)

// StoreThreshold is the minimum confidence for an answer to be written
// back into the memory fabric.
const StoreThreshold = 0.8

// completenessMinLength is the answer length at which the completeness
// component scores full marks.
const completenessMinLength = 100

// Flagged reasons, concatenated when confidence falls below the store
// threshold.
const (
	ReasonNoSources   = "no_sources_or_low_trust"
	ReasonUncertainty = "uncertainty_detected"
	ReasonIncomplete  = "incomplete_response"
	ReasonLowConf     = "low_confidence"
)

var hedgingPhrases = []string{
	"might",
	"could",
	"possibly",
	"perhaps",
	"maybe",
	"i'm not sure",
	"i am not sure",
	"not certain",
	"unclear",
	"i don't know",
	"i do not know",
	"i don't have access",
	"i do not have access",
	"cannot determine",
	"it depends",
}

var hedgingPatterns = compileHedges(hedgingPhrases)

func compileHedges(phrases []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(phrases))
	for _, phrase := range phrases {
		patterns = append(patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(phrase)+`\b`))
	}
	return patterns
}

// Evidence describes what grounded the answer.
type Evidence struct {
	// HasDocuments is true when at least one retrieved memory backed the
	// answer.
	HasDocuments bool
	// HasConversation is true when conversation history was in context.
	HasConversation bool
	// SourceCount is the number of memories actually used.
	SourceCount int
}

// Validator scores generated answers.
type Validator struct {
	threshold float64
}

// NewValidator creates a validator with the default store threshold.
func NewValidator() *Validator {
	return &Validator{threshold: StoreThreshold}
}

// NewValidatorWithThreshold overrides the store threshold, used by tuning.
func NewValidatorWithThreshold(threshold float64) *Validator {
	if threshold <= 0 || threshold > 1 {
		threshold = StoreThreshold
	}
	return &Validator{threshold: threshold}
}

// Score computes the confidence verdict for one answer.
func (v *Validator) Score(answer string, evidence Evidence) models.QualityValidation {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return models.QualityValidation{
			Confidence:    0,
			ShouldStore:   false,
			FlaggedReason: ReasonLowConf,
		}
	}

	sourceTrust := sourceTrustScore(evidence)
	completeness := completenessScore(trimmed)
	uncertainty, hedges := uncertaintyScore(trimmed)

	confidence := 0.4*sourceTrust + 0.2*completeness + 0.4*uncertainty
	shouldStore := confidence >= v.threshold

	result := models.QualityValidation{
		Confidence:  confidence,
		ShouldStore: shouldStore,
	}
	if !shouldStore {
		result.FlaggedReason = flaggedReason(sourceTrust, completeness, hedges)
	}
	return result
}

func sourceTrustScore(evidence Evidence) float64 {
	switch {
	case evidence.HasDocuments:
		return 1.0
	case evidence.HasConversation:
		return 0.7
	default:
		return 0.3
	}
}

func completenessScore(trimmed string) float64 {
	if len(trimmed) >= completenessMinLength {
		return 1.0
	}
	return 0.5
}

// uncertaintyScore counts distinct hedging phrases and decays 0.2 per
// phrase with a 0.3 floor.
func uncertaintyScore(trimmed string) (float64, int) {
	lower := strings.ToLower(trimmed)
	hedges := 0
	for _, pattern := range hedgingPatterns {
		if pattern.MatchString(lower) {
			hedges++
		}
	}

	score := 1 - 0.2*float64(hedges)
	if score < 0.3 {
		score = 0.3
	}
	return score, hedges
}

func flaggedReason(sourceTrust, completeness float64, hedges int) string {
	var reasons []string
	if sourceTrust < 1.0 {
		reasons = append(reasons, ReasonNoSources)
	}
	if hedges > 0 {
		reasons = append(reasons, ReasonUncertainty)
	}
	if completeness < 1.0 {
		reasons = append(reasons, ReasonIncomplete)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonLowConf)
	}
	return strings.Join(reasons, ",")
}
