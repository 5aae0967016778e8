package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatherly/concierge/internal/llm"
)

var modelsJSON bool

// ModelEntry describes one model for listings and scripting.
type ModelEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Created     int64  `json:"created,omitempty"`
	OwnedBy     string `json:"owned_by,omitempty"`
	Source      string `json:"source"`
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available from the active provider",
	Long: `List the models the active provider offers. Providers with a live
listing endpoint are queried directly; the rest fall back to the
curated catalog.

Examples:
  concierge models
  concierge models --provider openai
  concierge models --provider anthropic --json`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return err
	}

	entries, err := collectModels(cmd.Context(), cfg.Provider, provider)
	if err != nil {
		return err
	}

	if modelsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	fmt.Printf("Models for %s:\n", cfg.Provider)
	for _, entry := range entries {
		line := "  " + entry.ID
		if entry.DisplayName != "" && entry.DisplayName != entry.ID {
			line += fmt.Sprintf("  (%s)", entry.DisplayName)
		}
		if entry.Created > 0 {
			line += "  " + time.Unix(entry.Created, 0).UTC().Format("2006-01-02")
		}
		fmt.Println(line)
	}
	if len(entries) > 0 && entries[0].Source == "curated" {
		fmt.Println()
		fmt.Println("Curated catalog; this provider has no live listing endpoint.")
	}
	return nil
}

// collectModels prefers the provider's live listing and falls back to
// the curated catalog when the provider cannot list. A live listing
// that fails is an error, not a silent fallback.
func collectModels(ctx context.Context, providerName string, provider llm.Provider) ([]ModelEntry, error) {
	if lister, ok := provider.(llm.ModelLister); ok {
		models, err := lister.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("list models for %s: %w", providerName, err)
		}
		if len(models) > 0 {
			entries := make([]ModelEntry, 0, len(models))
			for _, m := range models {
				entries = append(entries, ModelEntry{
					ID:          m.ID,
					DisplayName: m.DisplayName,
					Created:     m.Created,
					OwnedBy:     m.OwnedBy,
					Source:      "live",
				})
			}
			return entries, nil
		}
	}

	var entries []ModelEntry
	for _, id := range llm.ProviderModels[providerName] {
		entries = append(entries, ModelEntry{ID: id, Source: "curated"})
	}
	return entries, nil
}
