package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultGPTModel       = "gpt-4o-mini"
)

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint
// and serves the gpt agent.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// An empty endpoint targets the hosted API.
func NewOpenAIClient(apiKey, model, endpoint string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required for the gpt agent")
	}
	if model == "" {
		model = defaultGPTModel
	}
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAIClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{},
	}, nil
}

// Name returns the agent this client serves.
func (c *OpenAIClient) Name() Agent { return AgentGPT }

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Complete runs one chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	var messages []openAIChatMessage
	if req.System != "" {
		messages = append(messages, openAIChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIChatMessage{Role: "user", Content: req.Prompt})

	body := openAIChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", httpResp.StatusCode, string(bodyBytes))
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	resp := &Response{
		Text:         parsed.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
		StopReason:   parsed.Choices[0].FinishReason,
	}
	resp.CostUSD = EstimateCost(model, resp.InputTokens, resp.OutputTokens)
	return resp, nil
}
