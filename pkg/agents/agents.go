// Package agents provides the LLM clients that answer queries: Anthropic
// (claude, claude-code), OpenAI-compatible endpoints (gpt), Google Gemini
// via langchaingo, and Anthropic models served through AWS Bedrock. A
// registry selects among them and a resilient wrapper adds circuit
// breaking and per-request timeouts.
package agents

import (
	"context"
	"errors"
)

// Agent names an answering model family as exposed to API callers.
type Agent string

const (
	AgentClaude     Agent = "claude"
	AgentGPT        Agent = "gpt"
	AgentGemini     Agent = "gemini"
	AgentClaudeCode Agent = "claude-code"
)

// Valid reports whether the agent name is one of the supported set.
func (a Agent) Valid() bool {
	switch a {
	case AgentClaude, AgentGPT, AgentGemini, AgentClaudeCode:
		return true
	}
	return false
}

var (
	// ErrUnknownAgent is returned when a requested agent is not registered.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrEmptyPrompt rejects requests with no prompt text.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
)

// Request is one completion request.
type Request struct {
	// System is the system preamble; empty means provider default.
	System string
	// Prompt is the user-visible prompt including assembled context.
	Prompt string
	// MaxTokens bounds the response; zero uses the client default.
	MaxTokens int
	// Temperature in [0, 1]; negative uses the provider default.
	Temperature float64
}

// Response is a completed generation with its usage accounting.
type Response struct {
	Text         string  `json:"text"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
	StopReason   string  `json:"stop_reason,omitempty"`
}

// Client is one answering model.
type Client interface {
	// Complete runs a single completion.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Name is the agent this client serves.
	Name() Agent
	// Model is the concrete model identifier in use.
	Model() string
}
