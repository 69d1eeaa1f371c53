package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Providers maps backend names to their settings
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Defaults apply to every conversation unless overridden
	Defaults DefaultsConfig `yaml:"defaults"`

	// Storage selects and configures the ledger backend
	Storage StorageConfig `yaml:"storage"`

	// Observability configures tracing and metrics
	Observability ObservabilityConfig `yaml:"observability"`
}

// ProviderConfig holds settings for a single backend
type ProviderConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// DefaultsConfig holds conversation defaults
type DefaultsConfig struct {
	Provider       string  `yaml:"provider"`
	SystemPrompt   string  `yaml:"system_prompt"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	ThinkingBudget int     `yaml:"thinking_budget"`
	MaxToolRounds  int     `yaml:"max_tool_rounds"`
}

// StorageConfig selects the ledger store
type StorageConfig struct {
	Backend string        `yaml:"backend"` // file, redis, memory
	Dir     string        `yaml:"dir"`
	Redis   RedisConfig   `yaml:"redis"`
	MaxIdle time.Duration `yaml:"max_idle"`
	Prune   string        `yaml:"prune"` // cron schedule, empty disables
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ObservabilityConfig configures tracing and the metrics endpoint
type ObservabilityConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Exporter     string `yaml:"exporter"` // otlp, stdout, none
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// envKeys maps provider names to the environment variables their API keys
// conventionally live in.
var envKeys = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration built purely from environment variables,
// used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name, env := range envKeys {
		p := c.Providers[name]
		if p.APIKey == "" {
			p.APIKey = os.Getenv(env)
		}
		c.Providers[name] = p
	}

	if c.Defaults.Provider == "" {
		c.Defaults.Provider = "anthropic"
	}
	if c.Defaults.MaxTokens == 0 {
		c.Defaults.MaxTokens = 4096
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Storage.Dir = home + "/.parley/conversations"
		} else {
			c.Storage.Dir = ".parley/conversations"
		}
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}

	if c.Observability.Exporter == "" {
		c.Observability.Exporter = "none"
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Provider returns the named provider's settings and whether it has a key.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok && p.APIKey != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, ok := c.Provider(c.Defaults.Provider); !ok {
		return fmt.Errorf("no API key configured for default provider %q", c.Defaults.Provider)
	}
	switch c.Storage.Backend {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
