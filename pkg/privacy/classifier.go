// Package privacy classifies memory content into privacy levels from
// content patterns and tag hints. Classification is deterministic and
// side-effect-free; the same input always yields the same level.
package privacy

import (
	"regexp"
	"strings"

	"github.com/S-Corkum/recall/pkg/models"
)

// Tag sets checked against lowercased tags.
var (
	secretTags = map[string]bool{
		"secret":      true,
		"secrets":     true,
		"credential":  true,
		"credentials": true,
		"password":    true,
		"api_key":     true,
		"apikey":      true,
		"token":       true,
		"private_key": true,
		"private":     true,
	}

	confidentialTags = map[string]bool{
		"confidential": true,
		"financial":    true,
		"finance":      true,
		"health":       true,
		"medical":      true,
		"legal":        true,
		"personal":     true,
		"pii":          true,
		"hr":           true,
		"salary":       true,
	}

	publicTags = map[string]bool{
		"public":        true,
		"docs":          true,
		"documentation": true,
		"tutorial":      true,
		"guide":         true,
		"readme":        true,
		"blog":          true,
		"announcement":  true,
		"open_source":   true,
	}
)

// Secret patterns force LOCAL_ONLY. Card numbers are handled separately
// through Luhn validation.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(api[_-]?key|secret[_-]?key|access[_-]?token|client[_-]?secret)\b["'\s:=]+\S+`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`),
	regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb|redis|amqp)://[^\s:@]+:[^\s@]+@\S+`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`(?i)\bpassword\b["'\s:=]+\S+`),
}

var confidentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(salary|payroll|invoice|bank account|routing number|iban|swift code|tax return|net worth|revenue forecast)\b`),
	regexp.MustCompile(`(?i)\b(diagnosis|prescription|medical record|therapy|blood test|mental health)\b`),
	regexp.MustCompile(`(?i)\b(nda|non-disclosure|lawsuit|settlement|attorney|legal counsel|under litigation)\b`),
	regexp.MustCompile(`(?i)\b(passport number|driver'?s license|date of birth|home address|social security)\b`),
}

// Documentation markers. Two or more distinct kinds suggest public
// documentation content.
var (
	headingPattern    = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	fencedCodePattern = regexp.MustCompile("```")
	docWordPattern    = regexp.MustCompile(`(?i)\b(readme|tutorial|guide|how[- ]to|documentation)\b`)
	mdLinkPattern     = regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`)
)

// cardCandidatePattern finds 16-digit card-shaped sequences, allowing
// single spaces or dashes between groups. Matches are confirmed with a
// Luhn check before they classify anything.
var cardCandidatePattern = regexp.MustCompile(`\b(?:\d[ -]?){15}\d\b`)

// Classify assigns a privacy level from content and tags. Rules apply
// in priority order: LOCAL_ONLY, CONFIDENTIAL, PUBLIC, then the
// INTERNAL default.
func Classify(content string, tags []string) models.PrivacyLevel {
	lowered := make([]string, 0, len(tags))
	for _, tag := range tags {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(tag)))
	}

	if isLocalOnly(content, lowered) {
		return models.PrivacyLocalOnly
	}
	if isConfidential(content, lowered) {
		return models.PrivacyConfidential
	}
	if isPublic(content, lowered) {
		return models.PrivacyPublic
	}
	return models.PrivacyInternal
}

func isLocalOnly(content string, tags []string) bool {
	for _, tag := range tags {
		if secretTags[tag] {
			return true
		}
	}
	if containsValidCardNumber(content) {
		return true
	}
	for _, pattern := range secretPatterns {
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}

func isConfidential(content string, tags []string) bool {
	for _, tag := range tags {
		if confidentialTags[tag] {
			return true
		}
	}
	for _, pattern := range confidentialPatterns {
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}

func isPublic(content string, tags []string) bool {
	for _, tag := range tags {
		if publicTags[tag] {
			return true
		}
	}
	return documentationMarkers(content) >= 2
}

// documentationMarkers counts the distinct marker kinds present.
func documentationMarkers(content string) int {
	count := 0
	if headingPattern.MatchString(content) {
		count++
	}
	if fencedCodePattern.MatchString(content) {
		count++
	}
	if docWordPattern.MatchString(content) {
		count++
	}
	if mdLinkPattern.MatchString(content) {
		count++
	}
	return count
}

// containsValidCardNumber reports whether the content holds a 16-digit
// sequence that passes the Luhn checksum. The pattern match alone never
// classifies; Luhn validates first, which removes order ids and other
// arbitrary digit runs.
func containsValidCardNumber(content string) bool {
	for _, candidate := range cardCandidatePattern.FindAllString(content, -1) {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, candidate)
		if len(digits) == 16 && luhnValid(digits) {
			return true
		}
	}
	return false
}

// luhnValid runs the Luhn checksum over a digit string.
func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
