package embedding

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
	defaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"
	defaultOpenAITimeout  = 10 * time.Second
	maxOpenAIBatchSize    = 16
)

// openAIEmbeddingRequest is the request body for the embeddings API
type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// openAIEmbeddingResponse is the response body from the embeddings API
type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIClient talks to an OpenAI-compatible embeddings endpoint.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// An empty endpoint targets the hosted API.
func NewOpenAIClient(apiKey, model, endpoint string, timeout time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required for OpenAI embeddings")
	}
	if model == "" {
		return nil, errors.New("model name is required")
	}
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	return &OpenAIClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Embed converts one text into a vector.
func (c *OpenAIClient) Embed(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	results, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.New("no embeddings generated")
	}
	return results[0], nil
}

// EmbedBatch converts several texts, splitting into API-sized batches.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyInput
		}
	}

	var all []*Result
	for i := 0; i < len(texts); i += maxOpenAIBatchSize {
		end := i + maxOpenAIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to process batch %d-%d: %w", i, end, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (c *OpenAIClient) embedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	start := time.Now()

	jsonData, err := json.Marshal(openAIEmbeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var response openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(response.Data))
	}

	latency := time.Since(start).Milliseconds()
	results := make([]*Result, len(response.Data))
	for i, data := range response.Data {
		if err := validateResult(data.Embedding); err != nil {
			return nil, err
		}
		results[i] = &Result{
			Vector:     data.Embedding,
			Dimensions: len(data.Embedding),
			Model:      response.Model,
			TokenCount: response.Usage.PromptTokens / len(texts),
			LatencyMs:  latency,
		}
	}
	return results, nil
}
