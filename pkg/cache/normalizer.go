package cache

import (
	"regexp"
	"strings"
	"unicode"
)

// QueryNormalizer preprocesses queries so that phrasings of the same
// question collapse to one cache key.
type QueryNormalizer interface {
	Normalize(query string) string
}

// DefaultQueryNormalizer lowercases, strips punctuation, drops stop words,
// and collapses consecutive duplicates.
type DefaultQueryNormalizer struct {
	whitespaceRegex  *regexp.Regexp
	punctuationRegex *regexp.Regexp
	stopWords        map[string]bool
	enableStopWords  bool
	preserveNumbers  bool
}

// NewQueryNormalizer creates a normalizer with default settings.
func NewQueryNormalizer() QueryNormalizer {
	return &DefaultQueryNormalizer{
		whitespaceRegex:  regexp.MustCompile(`\s+`),
		punctuationRegex: regexp.MustCompile(`[^\w\s-]`),
		enableStopWords:  true,
		preserveNumbers:  true,
		stopWords:        defaultStopWords(),
	}
}

// NewQueryNormalizerWithOptions creates a normalizer with custom behavior.
func NewQueryNormalizerWithOptions(enableStopWords, preserveNumbers bool) QueryNormalizer {
	return &DefaultQueryNormalizer{
		whitespaceRegex:  regexp.MustCompile(`\s+`),
		punctuationRegex: regexp.MustCompile(`[^\w\s-]`),
		enableStopWords:  enableStopWords,
		preserveNumbers:  preserveNumbers,
		stopWords:        defaultStopWords(),
	}
}

// Normalize processes a query for consistent cache keying.
func (n *DefaultQueryNormalizer) Normalize(query string) string {
	if query == "" {
		return ""
	}

	normalized := strings.ToLower(query)
	normalized = strings.TrimSpace(normalized)
	normalized = n.whitespaceRegex.ReplaceAllString(normalized, " ")

	// Keep hyphens so hyphenated terms survive.
	normalized = n.punctuationRegex.ReplaceAllString(normalized, " ")

	words := strings.Fields(normalized)
	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if n.enableStopWords && n.stopWords[word] {
			continue
		}
		if !n.preserveNumbers && isNumber(word) {
			continue
		}
		if len(word) < 2 && (!n.preserveNumbers || !isNumber(word)) {
			continue
		}
		filtered = append(filtered, word)
	}

	// Original order is preserved for semantic meaning; only consecutive
	// duplicates collapse.
	return strings.Join(deduplicateConsecutive(filtered), " ")
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return true
}

func deduplicateConsecutive(words []string) []string {
	if len(words) <= 1 {
		return words
	}

	result := make([]string, 0, len(words))
	result = append(result, words[0])
	for i := 1; i < len(words); i++ {
		if words[i] != words[i-1] {
			result = append(result, words[i])
		}
	}
	return result
}

func defaultStopWords() map[string]bool {
	return map[string]bool{
		// Articles
		"a": true, "an": true, "the": true,
		// Pronouns
		"i": true, "me": true, "my": true, "we": true, "our": true,
		"you": true, "your": true, "he": true, "his": true, "she": true,
		"her": true, "it": true, "its": true, "they": true, "them": true,
		"their": true, "this": true, "that": true, "these": true, "those": true,
		// Common verbs
		"is": true, "am": true, "are": true, "was": true, "were": true,
		"be": true, "been": true, "being": true, "have": true, "has": true,
		"had": true, "do": true, "does": true, "did": true, "will": true,
		"would": true, "can": true, "may": true,
		// Prepositions
		"at": true, "by": true, "for": true, "with": true, "about": true,
		"into": true, "through": true, "to": true, "from": true, "in": true,
		"out": true, "on": true, "of": true,
		// Conjunctions and question words
		"and": true, "but": true, "or": true, "if": true, "then": true,
		"when": true, "where": true, "how": true, "why": true, "what": true,
		"which": true, "who": true,
		// Other common words
		"please": true, "tell": true, "just": true, "so": true, "very": true,
	}
}
