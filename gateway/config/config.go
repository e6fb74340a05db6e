// Package config loads the REST gateway configuration from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig points the gateway at the ledger node's JSON-RPC endpoint.
type NodeConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AuthToken string        `yaml:"authToken"`
	TokenEnv  string        `yaml:"tokenEnv"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AuthConfig controls the JWT bearer check on gateway routes.
type AuthConfig struct {
	Enabled        bool          `yaml:"enabled"`
	HMACSecret     string        `yaml:"hmacSecret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	ScopeClaim     string        `yaml:"scopeClaim"`
	RequiredScopes []string      `yaml:"requiredScopes"`
	OptionalPaths  []string      `yaml:"optionalPaths"`
	AllowAnonymous bool          `yaml:"allowAnonymous"`
	ClockSkew      time.Duration `yaml:"clockSkew"`
}

// RateLimitConfig caps request rates per client for one route group.
type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// IdempotencyConfig controls the replay cache for mutating routes.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// ObservabilityConfig toggles request metrics, tracing, and access logs.
type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
}

// Config is the full gateway configuration document.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Node          NodeConfig          `yaml:"node"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Node: NodeConfig{
			Endpoint: "http://127.0.0.1:8545",
			TokenEnv: "OPENLEND_RPC_TOKEN",
			Timeout:  10 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Path:    "gateway-idempotency.db",
			TTL:     24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			ServiceName:   "openlend-gateway",
			MetricsPrefix: "gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
		},
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read gateway config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot serve.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	endpoint := strings.TrimSpace(c.Node.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("node endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid node endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("node endpoint must be http or https, got %q", parsed.Scheme)
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth enabled without hmacSecret")
	}
	for _, limit := range c.RateLimits {
		if strings.TrimSpace(limit.ID) == "" {
			return fmt.Errorf("rate limit entry missing id")
		}
		if limit.RequestsPerMinute < 0 {
			return fmt.Errorf("rate limit %q has negative requestsPerMinute", limit.ID)
		}
	}
	if c.Idempotency.Enabled && strings.TrimSpace(c.Idempotency.Path) == "" {
		return fmt.Errorf("idempotency enabled without store path")
	}
	return nil
}

// NodeToken resolves the admin token, preferring the inline value and
// falling back to the named environment variable.
func (c *Config) NodeToken() string {
	if token := strings.TrimSpace(c.Node.AuthToken); token != "" {
		return token
	}
	if env := strings.TrimSpace(c.Node.TokenEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// RateLimitTable indexes the configured limits by route group id.
func (c *Config) RateLimitTable() map[string]RateLimitConfig {
	table := make(map[string]RateLimitConfig, len(c.RateLimits))
	for _, limit := range c.RateLimits {
		table[strings.TrimSpace(limit.ID)] = limit
	}
	return table
}
