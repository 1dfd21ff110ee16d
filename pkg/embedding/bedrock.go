package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const titanModelID = "amazon.titan-embed-text-v2:0"

// titanEmbedRequest is the request body for Titan embedding models
type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// titanEmbedResponse is the response body from Titan embedding models
type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// bedrockInvoker matches the InvokeModel method of the Bedrock runtime client.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient generates embeddings through Amazon Bedrock Titan.
type BedrockClient struct {
	client bedrockInvoker
	model  string
}

// NewBedrockClient creates a Bedrock embedding client for the region.
func NewBedrockClient(ctx context.Context, region string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(cfg),
		model:  titanModelID,
	}, nil
}

// NewBedrockClientWithInvoker creates a client over an existing invoker.
func NewBedrockClientWithInvoker(invoker bedrockInvoker) *BedrockClient {
	return &BedrockClient{client: invoker, model: titanModelID}
}

// Model returns the Titan model identifier.
func (c *BedrockClient) Model() string { return c.model }

// Embed converts one text into a vector via Titan.
func (c *BedrockClient) Embed(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	requestBody, err := json.Marshal(titanEmbedRequest{InputText: text, Dimensions: Dimensions})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.model),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke model: %w", err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse Titan response: %w", err)
	}
	if err := validateResult(resp.Embedding); err != nil {
		return nil, err
	}

	return &Result{
		Vector:     resp.Embedding,
		Dimensions: len(resp.Embedding),
		Model:      c.model,
		TokenCount: resp.InputTextTokenCount,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// EmbedBatch converts texts one at a time; Titan has no batch endpoint.
func (c *BedrockClient) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	results := make([]*Result, 0, len(texts))
	for _, text := range texts {
		result, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}
