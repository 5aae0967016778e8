package llm

import "strings"

// ProviderModels contains the curated list of common models per provider.
// Live listings come from ListModels where a provider supports it.
var ProviderModels = map[string][]string{
	"anthropic": {
		"claude-sonnet-4-5",
		"claude-opus-4-1",
		"claude-haiku-4-5",
	},
	"openai": {
		"gpt-5.2",
		"gpt-5.1",
		"gpt-5",
		"gpt-5-mini",
		"gpt-5-nano",
	},
	"gemini": {
		"gemini-3-pro-preview",
		"gemini-3-flash-preview",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
	},
}

// GetProviderNames returns the provider names the factory can build.
func GetProviderNames() []string {
	return []string{"anthropic", "openai", "gemini", "openai-compat"}
}

// GetProviderCompletions returns completions for the --provider flag.
// It handles both provider-only and provider:model completion scenarios.
func GetProviderCompletions(toComplete string) []string {
	if strings.Contains(toComplete, ":") {
		parts := strings.SplitN(toComplete, ":", 2)
		provider := parts[0]
		modelPrefix := parts[1]

		models, ok := ProviderModels[provider]
		if !ok {
			return nil
		}

		var completions []string
		for _, model := range models {
			if strings.HasPrefix(model, modelPrefix) {
				completions = append(completions, provider+":"+model)
			}
		}
		return completions
	}

	var completions []string
	for _, name := range GetProviderNames() {
		if strings.HasPrefix(name, toComplete) {
			completions = append(completions, name)
		}
	}
	return completions
}
