package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/llm"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage configuration",
	Long: `Manage the concierge config file.

Without a subcommand the resolved configuration is printed, including
where each credential comes from. API keys are normally read from the
environment; "config init" can store one in the file for machines
where exporting variables is awkward.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup",
	Long: `Walk through provider and model selection and write the config file.

If the chosen provider's API key is not in the environment you can
paste one (input is hidden) to store it in the file, or skip and
export it later.`,
	RunE: runConfigInit,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE:  runConfigEdit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if config.Exists() {
		fmt.Printf("# %s\n\n", path)
	} else {
		fmt.Printf("# No config file (using defaults)\n")
		fmt.Printf("# Create one with: concierge config init\n\n")
	}

	fmt.Printf("provider: %s\n\n", cfg.Provider)

	fmt.Printf("server:\n")
	fmt.Printf("  bind: %s\n", cfg.Server.Bind)
	fmt.Printf("  port: %d\n", cfg.Server.Port)
	if cfg.Server.Token != "" {
		fmt.Printf("  token: [set]\n")
	} else {
		fmt.Printf("  token: [NOT SET - a fresh token is generated each run]\n")
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		fmt.Printf("  allowed_origins: %s\n", strings.Join(cfg.Server.AllowedOrigins, ", "))
	}

	fmt.Printf("\nstore:\n")
	fmt.Printf("  path: %s\n", displayStorePath(cfg))

	fmt.Printf("\nquota:\n")
	if cfg.Quota.DailyLimit > 0 {
		fmt.Printf("  daily_limit: %d\n", cfg.Quota.DailyLimit)
	} else {
		fmt.Printf("  daily_limit: 0 (unlimited)\n")
	}

	fmt.Printf("\nagent:\n")
	fmt.Printf("  max_tool_iterations: %d\n", cfg.Agent.MaxToolIterations)
	fmt.Printf("  max_retries: %d\n", cfg.Agent.MaxRetries)
	fmt.Printf("  max_tokens: %d\n", cfg.Agent.MaxTokens)

	fmt.Printf("\npersona:\n")
	fmt.Printf("  name: %s\n", cfg.Persona.Name)
	if cfg.Persona.Dir != "" {
		fmt.Printf("  dir: %s\n", cfg.Persona.Dir)
	}

	fmt.Printf("\nproviders:\n")
	fmt.Printf("  anthropic:\n")
	fmt.Printf("    model: %s\n", cfg.Anthropic.Model)
	printKeyStatus(cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fmt.Printf("  openai:\n")
	fmt.Printf("    model: %s\n", cfg.OpenAI.Model)
	printKeyStatus(cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	fmt.Printf("  gemini:\n")
	fmt.Printf("    model: %s\n", cfg.Gemini.Model)
	printKeyStatus(cfg.Gemini.APIKey, "GEMINI_API_KEY")
	fmt.Printf("  openai-compat:\n")
	if cfg.OpenAICompat.BaseURL != "" {
		fmt.Printf("    base_url: %s\n", cfg.OpenAICompat.BaseURL)
		if cfg.OpenAICompat.Model != "" {
			fmt.Printf("    model: %s\n", cfg.OpenAICompat.Model)
		}
		if cfg.OpenAICompat.APIKey != "" {
			fmt.Printf("    credentials: api_key [set]\n")
		}
	} else {
		fmt.Printf("    base_url: [NOT SET - required to enable]\n")
	}

	fmt.Printf("\nplatform:\n")
	if cfg.Platform.BaseURL != "" {
		fmt.Printf("  base_url: %s\n", cfg.Platform.BaseURL)
	} else {
		fmt.Printf("  base_url: [NOT SET - vendor and venue tools will fail]\n")
	}
	if cfg.Platform.Token != "" {
		fmt.Printf("  credentials: token [set via GATHERLY_API_TOKEN]\n")
	} else {
		fmt.Printf("  credentials: token [NOT SET - export GATHERLY_API_TOKEN]\n")
	}

	fmt.Printf("\ntelegram:\n")
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		fmt.Printf("  notifications: enabled (chat %d)\n", cfg.Telegram.ChatID)
	} else {
		fmt.Printf("  notifications: disabled\n")
	}

	if len(cfg.MCP.Servers) > 0 {
		fmt.Printf("\nmcp:\n")
		for _, s := range cfg.MCP.Servers {
			fmt.Printf("  %s: %s\n", s.Name, strings.TrimSpace(s.Command+" "+strings.Join(s.Args, " ")))
		}
	}

	fmt.Printf("\nlog:\n")
	fmt.Printf("  level: %s\n", cfg.Log.Level)
	if cfg.Log.File != "" {
		fmt.Printf("  file: %s\n", cfg.Log.File)
	}

	return nil
}

// printKeyStatus reports where a provider key comes from without
// printing the key itself.
func printKeyStatus(key, envVar string) {
	switch {
	case key == "":
		fmt.Printf("    credentials: api_key [NOT SET - export %s]\n", envVar)
	case key == os.Getenv(envVar):
		fmt.Printf("    credentials: api_key [set via %s]\n", envVar)
	default:
		fmt.Printf("    credentials: api_key [set in config file]\n")
	}
}

// displayStorePath mirrors Config.StorePath without creating the data
// directory as a side effect.
func displayStorePath(cfg *config.Config) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return filepath.Join(config.GetDataDir(), "concierge.db")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("config init needs an interactive terminal; edit %s directly instead", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if config.Exists() {
		fmt.Fprintf(os.Stderr, "Updating %s\n\n", path)
	} else {
		fmt.Fprintln(os.Stderr, "Welcome to concierge! Let's get you set up.")
		fmt.Fprintln(os.Stderr)
	}

	provider := cfg.Provider
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which LLM provider should the assistant use?").
				Options(
					huh.NewOption("Anthropic (Claude)", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Google Gemini", "gemini"),
				).
				Value(&provider),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.Provider = provider

	model := activeModel(cfg)
	models := llm.ProviderModels[provider]
	modelOpts := make([]huh.Option[string], 0, len(models))
	for _, m := range models {
		modelOpts = append(modelOpts, huh.NewOption(m, m))
	}
	modelForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default model").
				Options(modelOpts...).
				Value(&model),
		),
	)
	if err := modelForm.Run(); err != nil {
		return err
	}
	switch provider {
	case "anthropic":
		cfg.Anthropic.Model = model
	case "openai":
		cfg.OpenAI.Model = model
	case "gemini":
		cfg.Gemini.Model = model
	}

	envVar := providerEnvVars[provider]
	typed := ""
	haveKey := providerKey(cfg, provider) != ""
	if haveKey {
		fmt.Fprintf(os.Stderr, "Found %s credentials; the key stays out of the config file.\n", provider)
	} else {
		fmt.Fprintf(os.Stderr, "%s is not set.\n", envVar)
		fmt.Fprint(os.Stderr, "Paste an API key to store in the config file, or press enter to skip: ")
		keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr) // newline after hidden input
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		// Strip whitespace that sneaks in during paste.
		typed = strings.Join(strings.Fields(string(keyBytes)), "")
	}

	// Only a key typed here is persisted. Keys resolved from the
	// environment must not end up on disk.
	cfg.Anthropic.APIKey, cfg.OpenAI.APIKey, cfg.Gemini.APIKey = "", "", ""
	if typed != "" {
		switch provider {
		case "anthropic":
			cfg.Anthropic.APIKey = typed
		case "openai":
			cfg.OpenAI.APIKey = typed
		case "gemini":
			cfg.Gemini.APIKey = typed
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\nConfig saved to %s\n", path)
	if !haveKey && typed == "" {
		fmt.Fprintf(os.Stderr, "Remember to export %s before running concierge serve.\n", envVar)
	}
	return nil
}

func providerKey(cfg *config.Config, provider string) string {
	switch provider {
	case "anthropic":
		return cfg.Anthropic.APIKey
	case "openai":
		return cfg.OpenAI.APIKey
	case "gemini":
		return cfg.Gemini.APIKey
	}
	return ""
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	// Materialize the defaults first so there is something to edit.
	if config.NeedsSetup() {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Anthropic.APIKey, cfg.OpenAI.APIKey, cfg.Gemini.APIKey = "", "", ""
		if err := config.Save(cfg); err != nil {
			return err
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	return editorCmd.Run()
}
