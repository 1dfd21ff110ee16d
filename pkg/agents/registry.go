package agents

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/resilience"
)

// ProviderConfig holds credentials and model selection for one backend.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

// Config selects which agents are available and which one answers when
// the caller does not choose.
type Config struct {
	DefaultAgent   string         `mapstructure:"default_agent"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	MaxTokens      int            `mapstructure:"max_tokens"`
	Anthropic      ProviderConfig `mapstructure:"anthropic"`
	OpenAI         ProviderConfig `mapstructure:"openai"`
	Gemini         ProviderConfig `mapstructure:"gemini"`
	UseBedrock     bool           `mapstructure:"use_bedrock"`
	AWSRegion      string         `mapstructure:"aws_region"`
}

// Registry holds the configured agents and resolves which one a request
// should use.
type Registry struct {
	clients      map[Agent]Client
	defaultAgent Agent
	maxTokens    int
	logger       observability.Logger
}

// NewRegistry builds a registry over prebuilt clients. The default
// agent must be registered.
func NewRegistry(clients map[Agent]Client, defaultAgent Agent, maxTokens int, logger observability.Logger) (*Registry, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("no agents configured")
	}
	if _, ok := clients[defaultAgent]; !ok {
		return nil, fmt.Errorf("default agent %s is not configured", defaultAgent)
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Registry{
		clients:      clients,
		defaultAgent: defaultAgent,
		maxTokens:    maxTokens,
		logger:       logger,
	}, nil
}

// NewRegistryFromConfig builds clients for every provider with
// credentials and wraps each in the resilience layer. Providers without
// credentials are skipped, not errors: a deployment may run on a single
// backend.
func NewRegistryFromConfig(ctx context.Context, cfg Config, breakers *resilience.BreakerManager, logger observability.Logger) (*Registry, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	clients := make(map[Agent]Client)
	register := func(base Client) {
		clients[base.Name()] = NewResilientClient(base, breakers, timeout)
	}

	if cfg.UseBedrock {
		for _, name := range []Agent{AgentClaude, AgentClaudeCode} {
			client, err := NewBedrockClient(ctx, name, cfg.AWSRegion, cfg.Anthropic.Model)
			if err != nil {
				return nil, fmt.Errorf("failed to configure %s via bedrock: %w", name, err)
			}
			register(client)
		}
	} else if cfg.Anthropic.APIKey != "" {
		for _, name := range []Agent{AgentClaude, AgentClaudeCode} {
			client, err := NewAnthropicClient(name, cfg.Anthropic.APIKey, cfg.Anthropic.Model)
			if err != nil {
				return nil, fmt.Errorf("failed to configure %s: %w", name, err)
			}
			register(client)
		}
	}
	if cfg.OpenAI.APIKey != "" {
		client, err := NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to configure gpt: %w", err)
		}
		register(client)
	}
	if cfg.Gemini.APIKey != "" {
		client, err := NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to configure gemini: %w", err)
		}
		register(client)
	}

	defaultAgent := Agent(cfg.DefaultAgent)
	if defaultAgent == "" {
		defaultAgent = AgentClaude
	}
	if !defaultAgent.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, cfg.DefaultAgent)
	}

	registry, err := NewRegistry(clients, defaultAgent, cfg.MaxTokens, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("agent registry initialized", map[string]interface{}{
		"agents":        registry.Names(),
		"default_agent": string(defaultAgent),
	})
	return registry, nil
}

// Default returns the agent used when the caller does not choose.
func (r *Registry) Default() Agent { return r.defaultAgent }

// MaxTokens returns the configured completion token budget, or the
// package default when unset.
func (r *Registry) MaxTokens() int {
	if r.maxTokens <= 0 {
		return defaultMaxTokens
	}
	return r.maxTokens
}

// Client resolves an agent name to its client. An empty name resolves
// to the default agent.
func (r *Registry) Client(name Agent) (Client, error) {
	if name == "" {
		name = r.defaultAgent
	}
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("agent %s is not configured", name)
	}
	return client, nil
}

// Has reports whether an agent is registered.
func (r *Registry) Has(name Agent) bool {
	_, ok := r.clients[name]
	return ok
}

// Names lists the registered agents in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Complete resolves the agent and runs the completion. Falls back to
// the default agent when the chosen agent fails, so a single provider
// outage does not take answers down with it.
func (r *Registry) Complete(ctx context.Context, name Agent, req Request) (*Response, error) {
	client, err := r.Client(name)
	if err != nil {
		return nil, err
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = r.MaxTokens()
	}

	resp, err := client.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if client.Name() == r.defaultAgent {
		return nil, err
	}

	r.logger.Warn("agent failed, falling back to default", map[string]interface{}{
		"agent":         string(client.Name()),
		"default_agent": string(r.defaultAgent),
		"error":         err.Error(),
	})
	fallback, fbErr := r.Client(r.defaultAgent)
	if fbErr != nil {
		return nil, err
	}
	resp, fbErr = fallback.Complete(ctx, req)
	if fbErr != nil {
		return nil, fmt.Errorf("agent %s failed (%v) and fallback %s failed: %w", client.Name(), err, r.defaultAgent, fbErr)
	}
	return resp, nil
}
