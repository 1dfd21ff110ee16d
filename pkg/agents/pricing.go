package agents

import "strings"

// modelRate is USD per million tokens.
type modelRate struct {
	input  float64
	output float64
}

// Rates are matched by model-id prefix, longest prefix first. Unknown
// models fall back to a conservative default so cost analytics never read
// zero for a real call.
var modelRates = []struct {
	prefix string
	rate   modelRate
}{
	{"claude-opus", modelRate{input: 15.0, output: 75.0}},
	{"claude-sonnet", modelRate{input: 3.0, output: 15.0}},
	{"claude-haiku", modelRate{input: 0.8, output: 4.0}},
	{"claude-3-5-sonnet", modelRate{input: 3.0, output: 15.0}},
	{"claude-3-5-haiku", modelRate{input: 0.8, output: 4.0}},
	{"claude", modelRate{input: 3.0, output: 15.0}},
	{"anthropic.claude", modelRate{input: 3.0, output: 15.0}},
	{"gpt-4o-mini", modelRate{input: 0.15, output: 0.6}},
	{"gpt-4o", modelRate{input: 2.5, output: 10.0}},
	{"gpt-4", modelRate{input: 30.0, output: 60.0}},
	{"gpt", modelRate{input: 2.5, output: 10.0}},
	{"gemini-1.5-flash", modelRate{input: 0.075, output: 0.3}},
	{"gemini-1.5-pro", modelRate{input: 1.25, output: 5.0}},
	{"gemini", modelRate{input: 1.25, output: 5.0}},
}

var defaultRate = modelRate{input: 1.0, output: 3.0}

func rateFor(model string) modelRate {
	model = strings.ToLower(model)
	best := defaultRate
	bestLen := 0
	for _, entry := range modelRates {
		if strings.HasPrefix(model, entry.prefix) && len(entry.prefix) > bestLen {
			best = entry.rate
			bestLen = len(entry.prefix)
		}
	}
	return best
}

// EstimateCost computes the USD cost of one call from its token counts.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	rate := rateFor(model)
	return (float64(inputTokens)*rate.input + float64(outputTokens)*rate.output) / 1_000_000
}
