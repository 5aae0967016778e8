package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/llm"
)

// Version is stamped at build time.
var Version = "dev"

var (
	configFile   string
	providerFlag string
)

var rootCmd = &cobra.Command{
	Use:   "concierge",
	Short: "Conversational event-planning assistant for Gatherly",
	Long: `concierge runs the Gatherly planning assistant: an LLM-driven agent
that searches vendors and venues, estimates budgets, and books services
on an organizer's behalf. Side-effecting actions wait for explicit
confirmation before they run.

Examples:
  concierge serve                        # run the streaming HTTP server
  concierge chat                         # talk to a server from the terminal
  concierge chat --plain                 # line-mode client without the TUI

  concierge conversations list           # conversations for the current user
  concierge tools                        # tool catalog with gating
  concierge models --provider openai     # live model listing for one provider
  concierge config show                  # resolved configuration`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.config/concierge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "Override provider as name or name:model (e.g. anthropic:claude-haiku-4-5)")
	rootCmd.RegisterFlagCompletionFunc("provider", providerFlagCompletion)
}

// providerFlagCompletion completes --provider values. Before the colon
// it suggests provider names without a trailing space so the user can
// keep typing a model; after the colon it suggests known models.
func providerFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	completions := llm.GetProviderCompletions(toComplete)
	if !strings.Contains(toComplete, ":") {
		return completions, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFrom(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if providerFlag != "" {
		provider, model, err := llm.ParseProviderModel(providerFlag)
		if err != nil {
			return nil, err
		}
		cfg.ApplyOverrides(provider, model)
	}
	return cfg, nil
}

// newLogger builds the process logger from the log config. With a file
// configured output rotates through lumberjack; otherwise it goes to
// stderr. forceFile moves stderr logging into the data dir instead,
// for commands that own the terminal.
func newLogger(cfg *config.Config, forceFile string) *slog.Logger {
	var out io.Writer = os.Stderr
	switch {
	case cfg.Log.File != "":
		out = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
	case forceFile != "":
		out = &lumberjack.Logger{
			Filename:   forceFile,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})
	return slog.New(handler)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
