// Package config provides YAML-based configuration loading for the bot.
// Secrets are referenced as ${ENV_VAR} and expanded from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from gentlebot.yaml.
type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// BotConfig identifies the bot and sets the response policy knobs.
type BotConfig struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	// AutomatedCadence responds to every Nth automated-sender message.
	AutomatedCadence int `yaml:"automated_cadence"`
}

// GatewayConfig points at the websocket bridge delivering chat events.
type GatewayConfig struct {
	URL string `yaml:"url"`
}

// EmbeddingConfig holds the embeddings provider settings.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// TimeoutSeconds bounds one embedding call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// CacheMB sizes the in-process embedding cache.
	CacheMB int `yaml:"cache_mb"`
}

// GenerationConfig holds the reply-generation settings.
type GenerationConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// MaxRetries bounds rate-limit retries per response attempt.
	MaxRetries int `yaml:"max_retries"`
}

// RetrievalConfig tunes context assembly.
type RetrievalConfig struct {
	TopK        int `yaml:"top_k"`
	RecentLimit int `yaml:"recent_limit"`
}

// RetentionConfig bounds per-conversation history. Schedule is a cron
// expression; MaxMessages zero disables sweeping.
type RetentionConfig struct {
	MaxMessages int    `yaml:"max_messages"`
	Schedule    string `yaml:"schedule"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, expands ${ENV} references and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bot.AutomatedCadence == 0 {
		c.Bot.AutomatedCadence = 5
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.TimeoutSeconds == 0 {
		c.Embedding.TimeoutSeconds = 5
	}
	if c.Embedding.CacheMB == 0 {
		c.Embedding.CacheMB = 64
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "claude-sonnet-4-20250514"
	}
	if c.Generation.MaxTokens == 0 {
		c.Generation.MaxTokens = 1024
	}
	if c.Generation.TimeoutSeconds == 0 {
		c.Generation.TimeoutSeconds = 30
	}
	if c.Generation.MaxRetries == 0 {
		c.Generation.MaxRetries = 3
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 6
	}
	if c.Retrieval.RecentLimit == 0 {
		c.Retrieval.RecentLimit = 6
	}
	if c.Retention.MaxMessages == 0 {
		c.Retention.MaxMessages = 100
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "@hourly"
	}
}

func (c *Config) validate() error {
	var errs []string
	if c.Bot.ID == "" {
		errs = append(errs, "bot.id is required")
	}
	if c.Bot.Username == "" {
		errs = append(errs, "bot.username is required")
	}
	if c.Gateway.URL == "" {
		errs = append(errs, "gateway.url is required")
	}
	if c.Bot.AutomatedCadence < 0 {
		errs = append(errs, "bot.automated_cadence must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
