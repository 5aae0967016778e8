package llm

import (
	"fmt"
	"strings"

	"github.com/gatherly/concierge/internal/config"
)

// NewProvider creates the configured LLM provider. Providers are
// wrapped with automatic retry for rate limits (429) and transient
// errors; authentication failures surface immediately.
func NewProvider(cfg *config.Config) (Provider, error) {
	provider, err := newProviderInternal(cfg)
	if err != nil {
		return nil, err
	}
	retryCfg := DefaultRetryConfig()
	if cfg.Agent.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.Agent.MaxRetries
	}
	return WrapWithRetry(provider, retryCfg), nil
}

// NewProviderByName creates a provider by name, ignoring the configured
// default. Useful for per-command provider overrides.
func NewProviderByName(cfg *config.Config, name string) (Provider, error) {
	override := *cfg
	override.Provider = name
	return NewProvider(&override)
}

// newProviderInternal creates the underlying provider without retry wrapper.
func newProviderInternal(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model), nil

	case "openai":
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model), nil

	case "gemini":
		return NewGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.Model), nil

	case "openai-compat":
		if cfg.OpenAICompat.BaseURL == "" {
			return nil, fmt.Errorf("provider %q requires base_url", cfg.Provider)
		}
		return NewOpenAICompatProvider(cfg.OpenAICompat.BaseURL, cfg.OpenAICompat.APIKey, cfg.OpenAICompat.Model, "openai-compat"), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// ParseProviderModel parses "provider:model" or just "provider" from a
// flag value. Model will be empty if not specified.
func ParseProviderModel(s string) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider := strings.TrimSpace(parts[0])
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}

	for _, name := range GetProviderNames() {
		if provider == name {
			return provider, model, nil
		}
	}
	return "", "", fmt.Errorf("unknown provider: %s", provider)
}
