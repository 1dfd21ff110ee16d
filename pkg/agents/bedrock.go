package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	defaultBedrockModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	bedrockAnthropicAPI   = "bedrock-2023-05-31"
)

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockClaudeRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      *float64         `json:"temperature,omitempty"`
}

type bedrockClaudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// bedrockInvoker matches the InvokeModel method of the Bedrock runtime client.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient runs Anthropic models through Amazon Bedrock. It keeps
// completions inside AWS for deployments that cannot call public APIs.
type BedrockClient struct {
	name   Agent
	client bedrockInvoker
	model  string
}

// NewBedrockClient creates a Bedrock completion client for the region.
func NewBedrockClient(ctx context.Context, name Agent, region, model string) (*BedrockClient, error) {
	if name != AgentClaude && name != AgentClaudeCode {
		return nil, fmt.Errorf("%w: %s is not an anthropic agent", ErrUnknownAgent, name)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if model == "" {
		model = defaultBedrockModelID
	}
	return &BedrockClient{
		name:   name,
		client: bedrockruntime.NewFromConfig(cfg),
		model:  model,
	}, nil
}

// NewBedrockClientWithInvoker creates a client over an existing invoker.
func NewBedrockClientWithInvoker(name Agent, invoker bedrockInvoker, model string) *BedrockClient {
	if model == "" {
		model = defaultBedrockModelID
	}
	return &BedrockClient{name: name, client: invoker, model: model}
}

// Name returns the agent this client serves.
func (c *BedrockClient) Name() Agent { return c.name }

// Model returns the Bedrock model identifier.
func (c *BedrockClient) Model() string { return c.model }

// Complete runs one completion through InvokeModel using the Anthropic
// messages body format.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := bedrockClaudeRequest{
		AnthropicVersion: bedrockAnthropicAPI,
		MaxTokens:        maxTokens,
		System:           req.System,
		Messages:         []bedrockMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}
	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.model),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke model: %w", err)
	}

	var parsed bedrockClaudeResponse
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nil, errors.New("no completion content returned")
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	resp := &Response{
		Text:         text.String(),
		Model:        c.model,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
		StopReason:   parsed.StopReason,
	}
	resp.CostUSD = EstimateCost(c.model, resp.InputTokens, resp.OutputTokens)
	return resp, nil
}
