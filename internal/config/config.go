// Package config loads the application configuration from defaults, an
// optional YAML file and RECALL_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/S-Corkum/recall/internal/api"
	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/agents"
	"github.com/S-Corkum/recall/pkg/cache"
	"github.com/S-Corkum/recall/pkg/embedding"
	"github.com/S-Corkum/recall/pkg/observability"
	"github.com/S-Corkum/recall/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	// Environment selects development or production behavior. Anything
	// other than "development" is treated as production.
	Environment string `mapstructure:"environment"`

	API           api.Config              `mapstructure:"api"`
	Database      database.Config         `mapstructure:"database"`
	Vector        VectorConfig            `mapstructure:"vector"`
	Cache         cache.RedisConfig       `mapstructure:"cache"`
	AnswerCache   cache.AnswerCacheConfig `mapstructure:"answer_cache"`
	Embedding     embedding.Config        `mapstructure:"embedding"`
	Agents        agents.Config           `mapstructure:"agents"`
	Pipeline      PipelineConfig          `mapstructure:"pipeline"`
	Storage       storage.S3Config        `mapstructure:"storage"`
	Jobs          JobsConfig              `mapstructure:"jobs"`
	Secrets       SecretsConfig           `mapstructure:"secrets"`
	Encryption    EncryptionConfig        `mapstructure:"encryption"`
	Observability observability.Config    `mapstructure:"observability"`
}

// VectorConfig locates the vector store. Vectors live in Postgres via
// pgvector; an empty Host reuses the primary database connection, while
// a dedicated host gets its own pool with the primary credentials.
type VectorConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// GRPCPort is accepted for deployments that front the store with a
	// proxy; the SQL-backed store does not dial it.
	GRPCPort int `mapstructure:"grpc_port"`
}

// PipelineConfig seeds the ask-pipeline knobs that the auto-tuner may
// override at runtime.
type PipelineConfig struct {
	SemanticCacheEnabled bool `mapstructure:"semantic_cache_enabled"`
	ContextLimit         int  `mapstructure:"context_limit"`
}

// JobsConfig controls the background worker: the scheduled maintenance
// jobs and the queue consumer.
type JobsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// QueueURL is the SQS queue the ingest consumer drains. Empty
	// disables the consumer; scheduled jobs still run.
	QueueURL string `mapstructure:"queue_url"`

	// SynthesisBudgetUSD caps LLM spend per compaction run.
	SynthesisBudgetUSD float64 `mapstructure:"synthesis_budget_usd"`
}

// SecretsConfig configures the connector token vault.
type SecretsConfig struct {
	// MasterSecret derives the vault encryption key. Required.
	MasterSecret string `mapstructure:"master_secret"`

	// Salt pins key derivation for a deployment. It is not secret but
	// must stay stable once tokens are stored.
	Salt string `mapstructure:"salt"`
}

// EncryptionConfig holds the content encryption key.
type EncryptionConfig struct {
	// KeyB64 is the base64-encoded 32-byte key protecting memory
	// content at rest. Required.
	KeyB64 string `mapstructure:"key_b64"`
}

// Load builds the configuration from defaults, the YAML file named by
// RECALL_CONFIG_FILE (default configs/config.yaml) and environment
// variables prefixed with RECALL_. A missing config file is not an
// error; environment variables alone can configure the service.
func Load() (*Config, error) {
	// A .env file is a development convenience; absence is fine.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	configFile := os.Getenv("RECALL_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindOperatorNames(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Components that carry their own environment default to the
	// top-level one.
	if config.API.Environment == "" {
		config.API.Environment = config.Environment
	}
	if config.Observability.Tracing.Environment == "" {
		config.Observability.Tracing.Environment = config.Environment
	}

	return &config, nil
}

// bindOperatorNames maps the bare environment names deployments already
// use onto their config keys. Each value stays reachable through the
// RECALL_-prefixed form as well.
func bindOperatorNames(v *viper.Viper) {
	names := map[string]string{
		"environment":                     "ENVIRONMENT",
		"api.auth.jwt_secret":             "JWT_SECRET",
		"secrets.master_secret":           "TOKEN_MASTER_SECRET",
		"encryption.key_b64":              "ENCRYPTION_KEY_B64",
		"vector.host":                     "VECTOR_HOST",
		"vector.port":                     "VECTOR_PORT",
		"vector.grpc_port":                "VECTOR_GRPC_PORT",
		"embedding.model":                 "EMBEDDING_MODEL",
		"agents.default_agent":            "DEFAULT_MODEL",
		"pipeline.semantic_cache_enabled": "SEMANTIC_CACHE_ENABLED",
		"pipeline.context_limit":          "CONTEXT_LIMIT",
		"jobs.enabled":                    "JOBS_ENABLED",
		"jobs.synthesis_budget_usd":       "SYNTHESIS_BUDGET_USD",
	}
	for key, env := range names {
		_ = v.BindEnv(key, env)
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	// API defaults
	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 60*time.Second)
	v.SetDefault("api.idle_timeout", 120*time.Second)
	v.SetDefault("api.enable_swagger", false)
	v.SetDefault("api.auth.tenant", "default")
	v.SetDefault("api.auth.access_token_ttl", time.Hour)
	v.SetDefault("api.auth.refresh_token_ttl", 30*24*time.Hour)
	v.SetDefault("api.rate_limit.enabled", true)
	v.SetDefault("api.rate_limit.limit", 100)
	v.SetDefault("api.rate_limit.period", time.Minute)
	v.SetDefault("api.rate_limit.burst_factor", 3)
	v.SetDefault("api.ingest.enabled", false)
	v.SetDefault("api.ingest.listen_address", ":8081")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.database", "recall")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.search_path", "recall,public")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.query_timeout", 30*time.Second)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.migrations_path", "migrations/sql")

	// Vector store defaults; an empty host shares the primary database.
	v.SetDefault("vector.port", 5432)

	// Cache defaults
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.dial_timeout", 5*time.Second)
	v.SetDefault("cache.read_timeout", 3*time.Second)
	v.SetDefault("cache.write_timeout", 3*time.Second)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.min_idle_conns", 2)

	// Answer cache defaults
	v.SetDefault("answer_cache.enabled", true)
	v.SetDefault("answer_cache.similarity_threshold", cache.DefaultSimilarityThreshold)
	v.SetDefault("answer_cache.ttl", 24*time.Hour)
	v.SetDefault("answer_cache.prefix", "answer_cache")

	// Embedding defaults
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.cache_size", 2048)
	v.SetDefault("embedding.cache_ttl", 24*time.Hour)

	// Agent defaults
	v.SetDefault("agents.default_agent", string(agents.AgentClaude))
	v.SetDefault("agents.timeout_seconds", 90)
	v.SetDefault("agents.max_tokens", 2048)

	// Pipeline defaults
	v.SetDefault("pipeline.semantic_cache_enabled", true)
	v.SetDefault("pipeline.context_limit", 10)

	// Job defaults
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.synthesis_budget_usd", 0.50)

	// Secrets defaults
	v.SetDefault("secrets.salt", "recall-token-v1")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.namespace", "recall")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "recall")
}

// IsDevelopment reports whether the relaxed development posture is
// active.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// VectorDatabase returns the connection settings for the vector store.
// With no dedicated vector host the primary settings are returned
// unchanged; a dedicated host inherits the primary credentials.
func (c *Config) VectorDatabase() database.Config {
	dbCfg := c.Database
	if c.Vector.Host != "" {
		dbCfg.DSN = ""
		dbCfg.Host = c.Vector.Host
		if c.Vector.Port != 0 {
			dbCfg.Port = c.Vector.Port
		}
	}
	return dbCfg
}

// Validate rejects configurations the core services cannot start with.
// API settings are validated separately by the server entrypoint; the
// worker runs without them.
func (c *Config) Validate() error {
	if c.Database.DSN == "" && c.Database.Host == "" {
		return errors.New("config: database host or dsn is required")
	}
	if c.Encryption.KeyB64 == "" {
		return errors.New("config: encryption key is required")
	}
	return nil
}
