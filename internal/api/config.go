package api

import (
	"errors"
	"time"
)

// Config holds the HTTP server configuration.
type Config struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`

	// Environment selects the CORS posture. Anything other than
	// "development" is treated as production.
	Environment string `mapstructure:"environment"`

	EnableSwagger bool `mapstructure:"enable_swagger"`

	// CORSOrigins are allowed in addition to the environment defaults.
	// The wildcard origin is rejected because responses carry
	// credentials.
	CORSOrigins []string `mapstructure:"cors_origins"`

	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

// AuthConfig configures token issuance and API key checks.
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens. Required.
	JWTSecret string `mapstructure:"jwt_secret"`

	// Tenant is stamped into issued tokens. Single-tenant deployments
	// keep the default.
	Tenant string `mapstructure:"tenant"`

	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`

	// APIKeys guard operational endpoints such as /metrics. Keyed by
	// caller name for log attribution; only the values are compared.
	APIKeys map[string]string `mapstructure:"api_keys"`
}

// RateLimitConfig throttles requests per client IP.
type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Limit       int           `mapstructure:"limit"`
	Period      time.Duration `mapstructure:"period"`
	BurstFactor int           `mapstructure:"burst_factor"`
}

// IngestConfig configures the out-of-band webhook listener.
type IngestConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`

	// Secret is the shared HMAC key senders sign payloads with.
	// Required when the listener is enabled; unsigned ingest is never
	// accepted.
	Secret string `mapstructure:"secret"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  60 * time.Second,
		IdleTimeout:   120 * time.Second,
		Environment:   "production",
		Auth: AuthConfig{
			Tenant:          "default",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			Limit:       100,
			Period:      time.Minute,
			BurstFactor: 3,
		},
		Ingest: IngestConfig{
			ListenAddress: ":8081",
		},
	}
}

// Validate rejects configurations that cannot serve safely.
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("api: listen address is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("api: jwt secret is required")
	}
	if c.Ingest.Enabled && c.Ingest.Secret == "" {
		return errors.New("api: ingest secret is required when the ingest listener is enabled")
	}
	return nil
}
