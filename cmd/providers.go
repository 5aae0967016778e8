package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/llm"
)

var providersJSON bool

// ProviderInfo describes one provider for listings and scripting.
type ProviderInfo struct {
	Name      string   `json:"name"`
	EnvVar    string   `json:"env_var,omitempty"`
	Model     string   `json:"model,omitempty"`
	Models    []string `json:"models,omitempty"`
	Available bool     `json:"available"`
	Default   bool     `json:"default"`
}

var providerEnvVars = map[string]string{
	"anthropic":     "ANTHROPIC_API_KEY",
	"openai":        "OPENAI_API_KEY",
	"gemini":        "GEMINI_API_KEY",
	"openai-compat": "OPENAI_API_KEY",
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List LLM providers and their readiness",
	Long: `List the providers the concierge can run against, whether their
credentials resolve, and which models are curated for each.

Examples:
  concierge providers
  concierge providers --json`,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	// A missing config file still yields defaults plus env credentials.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	infos := buildProviderInfos(cfg)

	if providersJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	for _, info := range infos {
		marker := "  "
		if info.Default {
			marker = "* "
		}
		state := "not configured"
		if info.Available {
			state = "ready"
		}
		line := fmt.Sprintf("%s%-14s %-15s model=%s", marker, info.Name, state, info.Model)
		if !info.Available && info.EnvVar != "" {
			line += fmt.Sprintf("  (set %s)", info.EnvVar)
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
	fmt.Println()
	fmt.Println("* marks the configured default. Pass --provider name[:model] to override per command.")
	return nil
}

func buildProviderInfos(cfg *config.Config) []ProviderInfo {
	var infos []ProviderInfo
	for _, name := range llm.GetProviderNames() {
		info := ProviderInfo{
			Name:    name,
			EnvVar:  providerEnvVars[name],
			Models:  llm.ProviderModels[name],
			Default: cfg.Provider == name,
		}
		switch name {
		case "anthropic":
			info.Model = cfg.Anthropic.Model
			info.Available = cfg.Anthropic.APIKey != ""
		case "openai":
			info.Model = cfg.OpenAI.Model
			info.Available = cfg.OpenAI.APIKey != ""
		case "gemini":
			info.Model = cfg.Gemini.Model
			info.Available = cfg.Gemini.APIKey != ""
		case "openai-compat":
			info.Model = cfg.OpenAICompat.Model
			info.Available = cfg.OpenAICompat.BaseURL != ""
		}
		infos = append(infos, info)
	}
	return infos
}
