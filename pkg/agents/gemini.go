package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiClient serves the gemini agent through langchaingo's Google AI
// backend.
type GeminiClient struct {
	model string
	llm   llms.Model
}

// NewGeminiClient creates a client for the Google AI API.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required for the gemini agent")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}
	return &GeminiClient{model: model, llm: llm}, nil
}

// newGeminiClientWithModel wires a prebuilt backend, used by tests.
func newGeminiClientWithModel(model string, llm llms.Model) *GeminiClient {
	return &GeminiClient{model: model, llm: llm}
}

// Name returns the agent this client serves.
func (c *GeminiClient) Name() Agent { return AgentGemini }

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Complete runs one completion through GenerateContent.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithModel(c.model)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}

	start := time.Now()
	result, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini completion failed: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}

	choice := result.Choices[0]
	resp := &Response{
		Text:         choice.Content,
		Model:        c.model,
		InputTokens:  generationTokens(choice.GenerationInfo, "input_tokens"),
		OutputTokens: generationTokens(choice.GenerationInfo, "output_tokens"),
		LatencyMs:    time.Since(start).Milliseconds(),
		StopReason:   choice.StopReason,
	}
	resp.CostUSD = EstimateCost(c.model, resp.InputTokens, resp.OutputTokens)
	return resp, nil
}

// generationTokens reads a token count out of langchaingo's untyped
// generation info map.
func generationTokens(info map[string]interface{}, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
