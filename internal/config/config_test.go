package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every env var applyEnvOverrides reads so tests see
// deterministic defaults regardless of the host shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONVERGEAI_ADDR", "CONVERGEAI_DB", "CONVERGEAI_LOG_DIR",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "OLLAMA_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("default top_k = %d, want 7", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.GroundingThreshold != 0.60 {
		t.Errorf("default grounding threshold = %g, want 0.60", cfg.Retrieval.GroundingThreshold)
	}
	if cfg.Session.IdleTimeoutMinutes != 30 {
		t.Errorf("default idle timeout = %d, want 30", cfg.Session.IdleTimeoutMinutes)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if cfg.LLM.Provider != "template" {
		t.Errorf("provider = %q, want template", cfg.LLM.Provider)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
retrieval:
  top_k: 5
session:
  idle_timeout_minutes: 45
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top_k = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Session.IdleTimeoutMinutes != 45 {
		t.Errorf("idle = %d, want 45", cfg.Session.IdleTimeoutMinutes)
	}
	// Untouched sections keep their defaults.
	if cfg.Timeouts.LLM != "20s" {
		t.Errorf("llm timeout = %q, want default 20s", cfg.Timeouts.LLM)
	}
	if cfg.Retrieval.GroundingThreshold != 0.60 {
		t.Errorf("grounding threshold = %g, want default 0.60", cfg.Retrieval.GroundingThreshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONVERGEAI_ADDR", ":9999")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q, want :9999", cfg.Server.Addr)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.APIKey != "test-key" {
		t.Errorf("llm = %q/%q, want gemini/test-key", cfg.LLM.Provider, cfg.LLM.APIKey)
	}
	if cfg.Embedding.GenAIAPIKey != "test-key" {
		t.Errorf("embedding key not propagated from GEMINI_API_KEY")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad llm provider", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm provider"},
		{"bad embedding provider", func(c *Config) { c.Embedding.Provider = "bert" }, "embedding provider"},
		{"top_k too small", func(c *Config) { c.Retrieval.TopK = 0 }, "top_k"},
		{"top_k too large", func(c *Config) { c.Retrieval.TopK = 51 }, "top_k"},
		{"threshold out of range", func(c *Config) { c.Retrieval.GroundingThreshold = 1.5 }, "grounding_threshold"},
		{"idle timeout zero", func(c *Config) { c.Session.IdleTimeoutMinutes = 0 }, "idle_timeout"},
		{"dimensions zero", func(c *Config) { c.Embedding.Dimensions = 0 }, "dimensions"},
		{"cache ttl too long", func(c *Config) { c.Catalog.CacheTTL = "10m" }, "cache_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("retrieval:\n  top_k: 999\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for top_k 999")
	}
}

func TestDurationGetterFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeouts = TimeoutsConfig{Embed: "bogus", Vector: "", LLM: "-3s", DB: "0s", Turn: "2m"}

	if got := cfg.EmbedTimeout(); got != 2*time.Second {
		t.Errorf("EmbedTimeout = %v, want fallback 2s", got)
	}
	if got := cfg.VectorTimeout(); got != 3*time.Second {
		t.Errorf("VectorTimeout = %v, want fallback 3s", got)
	}
	if got := cfg.LLMTimeout(); got != 20*time.Second {
		t.Errorf("LLMTimeout = %v, want fallback 20s", got)
	}
	if got := cfg.DBTimeout(); got != 3*time.Second {
		t.Errorf("DBTimeout = %v, want fallback 3s", got)
	}
	if got := cfg.TurnBudget(); got != 2*time.Minute {
		t.Errorf("TurnBudget = %v, want configured 2m", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Retrieval.TopK = 9
	cfg.Session.IdleTimeoutMinutes = 15

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Retrieval.TopK != 9 || loaded.Session.IdleTimeoutMinutes != 15 {
		t.Errorf("round trip lost values: top_k=%d idle=%d", loaded.Retrieval.TopK, loaded.Session.IdleTimeoutMinutes)
	}
}
