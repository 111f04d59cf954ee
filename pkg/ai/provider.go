package ai

import (
	"fmt"
	"strings"
)

// Provider names accepted by NewGenerator.
const (
	ProviderClaude       = "claude"
	ProviderGemini       = "gemini"
	ProviderOpenAICompat = "openai-compat"
	ProviderOllama       = "ollama"
)

// ProviderConfig selects and configures one text generation backend.
type ProviderConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// Configured reports whether cfg has enough to build a generator. Hosted
// providers need an API key; local ones need a model.
func (cfg ProviderConfig) Configured() bool {
	switch NormalizeProvider(cfg.Provider) {
	case ProviderClaude, ProviderGemini:
		return strings.TrimSpace(cfg.APIKey) != ""
	case ProviderOpenAICompat, ProviderOllama:
		return strings.TrimSpace(cfg.Model) != ""
	default:
		return false
	}
}

// NewGenerator builds the TextGenerator described by cfg.
func NewGenerator(cfg ProviderConfig, opts ...ClientOption) (TextGenerator, error) {
	provider := NormalizeProvider(cfg.Provider)
	if cfg.BaseURL != "" {
		opts = append([]ClientOption{WithBaseURL(cfg.BaseURL)}, opts...)
	}
	switch provider {
	case ProviderClaude:
		return NewClaudeGenerator(cfg.APIKey, cfg.Model, opts...)
	case ProviderGemini:
		client, err := NewGeminiClient(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return NewGeminiGenerator(client, cfg.Model), nil
	case ProviderOpenAICompat:
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, opts...), nil
	case ProviderOllama:
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model, opts...), nil
	default:
		return nil, fmt.Errorf("unknown ai provider: %q", cfg.Provider)
	}
}

// NormalizeProvider maps aliases such as "anthropic" onto provider names.
func NormalizeProvider(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "anthropic":
		return ProviderClaude
	case "openai", "openai_compat":
		return ProviderOpenAICompat
	}
	return p
}
