package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultClaudeModel = "claude-sonnet-4-20250514"
	defaultMaxTokens   = 2048
)

// AnthropicClient serves the claude and claude-code agents through the
// official SDK.
type AnthropicClient struct {
	name   Agent
	model  string
	client anthropic.Client
}

// NewAnthropicClient creates a client for one of the anthropic-backed
// agents.
func NewAnthropicClient(name Agent, apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required for anthropic agents")
	}
	if name != AgentClaude && name != AgentClaudeCode {
		return nil, fmt.Errorf("%w: %s is not an anthropic agent", ErrUnknownAgent, name)
	}
	if model == "" {
		model = defaultClaudeModel
	}
	return &AnthropicClient{
		name:   name,
		model:  model,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the agent this client serves.
func (c *AnthropicClient) Name() Agent { return c.name }

// Model returns the configured model identifier.
func (c *AnthropicClient) Model() string { return c.model }

// Complete runs one completion through the Messages API.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	resp := &Response{
		Text:         text.String(),
		Model:        c.model,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
		StopReason:   string(message.StopReason),
	}
	resp.CostUSD = EstimateCost(c.model, resp.InputTokens, resp.OutputTokens)
	return resp, nil
}
