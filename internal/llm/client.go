// Package llm provides text-generation clients for assistant prose. The core
// treats the LLM as an opaque generate(prompt) -> text collaborator: every
// state transition, validation, and commit stays deterministic, so the
// template client (no network) is a full-fidelity stand-in everywhere outside
// answer wording.
package llm

import (
	"fmt"

	"convergeai/internal/config"
	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// New builds the configured LLM client. Providers: "openai" (any
// OpenAI-compatible chat endpoint), "gemini", or "template" (deterministic,
// offline).
func New(cfg config.LLMConfig) (types.LLMClient, error) {
	logging.LLM("Creating LLM client: provider=%s model=%s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm provider %q requires an api key", cfg.Provider)
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm provider %q requires an api key", cfg.Provider)
		}
		return NewGeminiClient(cfg.APIKey, cfg.Model)
	case "template", "":
		return NewTemplateClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'openai', 'gemini', or 'template')", cfg.Provider)
	}
}
