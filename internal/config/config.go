// Package config loads and watches ConvergeAI configuration.
//
// Configuration comes from a YAML file layered over DefaultConfig, with
// environment-variable overrides applied last. Policy tables (refund
// schedule, SLA deadlines, alert rules) live here too: they are loaded at
// startup, validated, and never mutable from the user path. A Watcher
// refreshes the active snapshot on a fixed poll and on file-write events.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ConvergeAI configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Policies  PolicyConfig    `yaml:"policies"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the thin HTTP adapter.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the text-generation collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini, template
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding collaborator.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai, hash
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	Dimensions     int    `yaml:"dimensions"`
	Timeout        string `yaml:"timeout"`
}

// RetrievalConfig configures chunk retrieval and grounding.
// TopK and GroundingThreshold are hot-reloadable.
type RetrievalConfig struct {
	TopK               int     `yaml:"top_k"`
	GroundingThreshold float64 `yaml:"grounding_threshold"`
	PolicyNamespace    string  `yaml:"policy_namespace"`
	Timeout            string  `yaml:"timeout"` // vector store query budget
}

// SessionConfig configures session lifecycle. IdleTimeoutMinutes is
// hot-reloadable.
type SessionConfig struct {
	IdleTimeoutMinutes int    `yaml:"idle_timeout_minutes"`
	SweepInterval      string `yaml:"sweep_interval"`
	HistoryLimit       int    `yaml:"history_limit"` // transcript tail given to agents
}

// CatalogConfig configures the in-process catalog cache.
type CatalogConfig struct {
	CacheTTL string `yaml:"cache_ttl"` // must stay <= 5m
}

// TimeoutsConfig carries per-collaborator call budgets.
type TimeoutsConfig struct {
	Embed     string `yaml:"embed"`
	Vector    string `yaml:"vector"`
	LLM       string `yaml:"llm"`
	DB        string `yaml:"db"`
	Turn      string `yaml:"turn"` // whole-turn budget
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	Level      string   `yaml:"level"`  // debug, info, warn, error
	Dir        string   `yaml:"dir"`    // category log files live here
	Categories []string `yaml:"categories"` // enabled categories; empty = all
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "convergeai",
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},

		Database: DatabaseConfig{
			Path: "data/convergeai.db",
		},

		LLM: LLMConfig{
			Provider: "template",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "20s",
		},

		Embedding: EmbeddingConfig{
			Provider:       "hash",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
			GenAIModel:     "gemini-embedding-001",
			Dimensions:     384,
			Timeout:        "2s",
		},

		Retrieval: RetrievalConfig{
			TopK:               7,
			GroundingThreshold: 0.60,
			PolicyNamespace:    "policies",
			Timeout:            "3s",
		},

		Session: SessionConfig{
			IdleTimeoutMinutes: 30,
			SweepInterval:      "5m",
			HistoryLimit:       12,
		},

		Catalog: CatalogConfig{
			CacheTTL: "5m",
		},

		Timeouts: TimeoutsConfig{
			Embed:  "2s",
			Vector: "3s",
			LLM:    "20s",
			DB:     "3s",
			Turn:   "30s",
		},

		Policies: DefaultPolicies(),

		Logging: LoggingConfig{
			Level: "info",
			Dir:   "logs",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults
// so fresh checkouts run without setup.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CONVERGEAI_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("CONVERGEAI_DB"); path != "" {
		c.Database.Path = path
	}
	if dir := os.Getenv("CONVERGEAI_LOG_DIR"); dir != "" {
		c.Logging.Dir = dir
	}

	// LLM keys in priority order; the last match wins.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" || c.LLM.Provider == "template" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
		c.Embedding.GenAIAPIKey = key
	}

	if ep := os.Getenv("OLLAMA_ENDPOINT"); ep != "" {
		c.Embedding.OllamaEndpoint = ep
		if c.Embedding.Provider == "hash" {
			c.Embedding.Provider = "ollama"
		}
	}
}

// ValidLLMProviders are the accepted llm.provider values.
var ValidLLMProviders = []string{"openai", "gemini", "template"}

// ValidEmbeddingProviders are the accepted embedding.provider values.
var ValidEmbeddingProviders = []string{"ollama", "genai", "hash"}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if !contains(ValidLLMProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid llm provider %q (valid: %v)", c.LLM.Provider, ValidLLMProviders)
	}
	if !contains(ValidEmbeddingProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid embedding provider %q (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 50 {
		return fmt.Errorf("retrieval.top_k must be in [1, 50], got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.GroundingThreshold < 0 || c.Retrieval.GroundingThreshold > 1 {
		return fmt.Errorf("retrieval.grounding_threshold must be in [0, 1], got %g", c.Retrieval.GroundingThreshold)
	}
	if c.Session.IdleTimeoutMinutes < 1 {
		return fmt.Errorf("session.idle_timeout_minutes must be >= 1, got %d", c.Session.IdleTimeoutMinutes)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("embedding.dimensions must be >= 1, got %d", c.Embedding.Dimensions)
	}
	if ttl := c.CatalogCacheTTL(); ttl > 5*time.Minute {
		return fmt.Errorf("catalog.cache_ttl must be <= 5m, got %s", ttl)
	}
	return c.Policies.Validate()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// =============================================================================
// DURATION GETTERS
// =============================================================================

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// EmbedTimeout returns the per-call embedding budget.
func (c *Config) EmbedTimeout() time.Duration {
	return parseDuration(c.Timeouts.Embed, 2*time.Second)
}

// VectorTimeout returns the per-call vector query budget.
func (c *Config) VectorTimeout() time.Duration {
	return parseDuration(c.Timeouts.Vector, 3*time.Second)
}

// LLMTimeout returns the per-call LLM budget.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.Timeouts.LLM, 20*time.Second)
}

// DBTimeout returns the per-query database budget.
func (c *Config) DBTimeout() time.Duration {
	return parseDuration(c.Timeouts.DB, 3*time.Second)
}

// TurnBudget returns the whole-turn budget; turns exceeding it abort with
// the workflow draft rolled back to its pre-turn value.
func (c *Config) TurnBudget() time.Duration {
	return parseDuration(c.Timeouts.Turn, 30*time.Second)
}

// SessionIdleTimeout returns the idle window after which a session closes.
func (c *Config) SessionIdleTimeout() time.Duration {
	if c.Session.IdleTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Session.IdleTimeoutMinutes) * time.Minute
}

// SessionSweepInterval returns how often the idle sweeper runs.
func (c *Config) SessionSweepInterval() time.Duration {
	return parseDuration(c.Session.SweepInterval, 5*time.Minute)
}

// HistoryLimit returns how many trailing transcript messages agents receive.
func (c *Config) HistoryLimit() int {
	if c.Session.HistoryLimit <= 0 {
		return 12
	}
	return c.Session.HistoryLimit
}

// CatalogCacheTTL returns the catalog cache TTL.
func (c *Config) CatalogCacheTTL() time.Duration {
	return parseDuration(c.Catalog.CacheTTL, 5*time.Minute)
}

// ServerShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ServerShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}
