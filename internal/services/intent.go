package services

import "strings"

// Query intents. The classifier is keyword-based and deterministic; the
// first matching class in priority order wins.
const (
	IntentMemoryQuery = "MEMORY_QUERY"
	IntentCreative    = "CREATIVE"
	IntentResearch    = "RESEARCH"
	IntentAnalysis    = "ANALYSIS"
	IntentFactual     = "FACTUAL"
)

var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentMemoryQuery, []string{
		"remember", "recall", "what did i", "what did we", "did i tell",
		"did i mention", "have i", "last time", "previously", "you said",
		"we discussed", "we talked",
	}},
	{IntentCreative, []string{
		"write a", "write me", "draft", "compose", "brainstorm", "come up with",
		"generate a", "story", "poem", "slogan",
	}},
	{IntentResearch, []string{
		"research", "investigate", "find out", "look up", "latest", "news",
		"current", "recent developments", "state of the art",
	}},
	{IntentAnalysis, []string{
		"why", "analyze", "analyse", "compare", "contrast", "evaluate",
		"pros and cons", "trade-off", "tradeoff", "implication", "explain how",
	}},
}

// ClassifyIntent maps a query to one of the five intent classes. Unmatched
// queries fall through to FACTUAL.
func ClassifyIntent(query string) string {
	q := strings.ToLower(query)
	for _, class := range intentKeywords {
		for _, kw := range class.keywords {
			if strings.Contains(q, kw) {
				return class.intent
			}
		}
	}
	return IntentFactual
}
