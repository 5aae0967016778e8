package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Provider     string             `mapstructure:"provider"`
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Platform     PlatformConfig     `mapstructure:"platform"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Persona      PersonaConfig      `mapstructure:"persona"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	MCP          MCPConfig          `mapstructure:"mcp"`
	Log          LogConfig          `mapstructure:"log"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	OpenAICompat OpenAICompatConfig `mapstructure:"openai-compat"`
}

// ServerConfig configures the HTTP streaming server
type ServerConfig struct {
	Bind           string   `mapstructure:"bind"`            // Listen address (default 127.0.0.1)
	Port           int      `mapstructure:"port"`            // Listen port (default 8740)
	Token          string   `mapstructure:"token"`           // Bearer token; empty means serve generates one per run
	AllowedOrigins []string `mapstructure:"allowed_origins"` // CORS origins for browser clients
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`  // Request body cap (default 1 MiB)
}

// StoreConfig configures conversation persistence
type StoreConfig struct {
	Path string `mapstructure:"path"` // SQLite database path; empty uses the data dir default
}

// QuotaConfig configures per-user daily request limits
type QuotaConfig struct {
	DailyLimit int `mapstructure:"daily_limit"` // Provider calls per user per UTC day; 0 disables
}

// AgentConfig tunes the orchestration loop
type AgentConfig struct {
	MaxToolIterations int `mapstructure:"max_tool_iterations"` // Provider round-trips per turn (default 4)
	MaxRetries        int `mapstructure:"max_retries"`         // Provider call attempts (default 3)
	MaxTokens         int `mapstructure:"max_tokens"`          // Response token cap per call
}

// PlatformConfig points tools at the event-planning platform API
type PlatformConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// ToolsConfig controls which tools run without confirmation.
// Patterns are globs matched against tool names; explicit config
// overrides the built-in classification.
type ToolsConfig struct {
	Auto     []string `mapstructure:"auto"`     // Always execute immediately
	Confirm  []string `mapstructure:"confirm"`  // Always require confirmation
	Disabled []string `mapstructure:"disabled"` // Never offered to the model
}

// PersonaConfig selects the assistant persona
type PersonaConfig struct {
	Name string `mapstructure:"name"` // Persona name (default "concierge")
	Dir  string `mapstructure:"dir"`  // Extra directory searched for persona files
}

// TelegramConfig configures operator notifications for gated tool calls
type TelegramConfig struct {
	Token  string `mapstructure:"token"`   // Bot token; empty disables notifications
	ChatID int64  `mapstructure:"chat_id"` // Destination chat
}

// MCPConfig lists external MCP tool servers
type MCPConfig struct {
	Servers []MCPServerConfig `mapstructure:"servers"`
}

type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// LogConfig configures structured logging output
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	File       string `mapstructure:"file"`        // Log file path; empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // Rotate after this size
	MaxBackups int    `mapstructure:"max_backups"` // Rotated files to keep
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OpenAICompatConfig configures a generic OpenAI-compatible server
type OpenAICompatConfig struct {
	BaseURL string `mapstructure:"base_url"` // Required - no default
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"` // Optional
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	return load()
}

// LoadFrom reads configuration from an explicit file path. Unlike
// Load, a missing file is an error.
func LoadFrom(path string) (*Config, error) {
	viper.SetConfigFile(path)
	return load()
}

func load() (*Config, error) {
	// Set defaults
	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("server.bind", "127.0.0.1")
	viper.SetDefault("server.port", 8740)
	viper.SetDefault("server.max_body_bytes", 1<<20)
	viper.SetDefault("quota.daily_limit", 50)
	viper.SetDefault("agent.max_tool_iterations", 4)
	viper.SetDefault("agent.max_retries", 3)
	viper.SetDefault("agent.max_tokens", 4096)
	viper.SetDefault("persona.name", "concierge")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("openai.model", "gpt-5.2")
	viper.SetDefault("gemini.model", "gemini-3-flash-preview")
	// openai-compat has no base_url default - it's required

	viper.SetEnvPrefix("CONCIERGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional - won't error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveCredentials(&cfg)

	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "anthropic":
			c.Anthropic.Model = model
		case "openai":
			c.OpenAI.Model = model
		case "gemini":
			c.Gemini.Model = model
		case "openai-compat":
			c.OpenAICompat.Model = model
		}
	}
}

// resolveCredentials fills API keys from the environment when the
// config file leaves them empty
func resolveCredentials(cfg *Config) {
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg.Gemini.APIKey = expandEnv(cfg.Gemini.APIKey)
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	cfg.OpenAICompat.APIKey = expandEnv(cfg.OpenAICompat.APIKey)
	cfg.OpenAICompat.BaseURL = expandEnv(cfg.OpenAICompat.BaseURL)

	cfg.Server.Token = expandEnv(cfg.Server.Token)
	if cfg.Server.Token == "" {
		cfg.Server.Token = os.Getenv("CONCIERGE_SERVER_TOKEN")
	}

	cfg.Platform.BaseURL = expandEnv(cfg.Platform.BaseURL)
	cfg.Platform.Token = expandEnv(cfg.Platform.Token)
	if cfg.Platform.Token == "" {
		cfg.Platform.Token = os.Getenv("GATHERLY_API_TOKEN")
	}

	cfg.Telegram.Token = expandEnv(cfg.Telegram.Token)
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for concierge.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "concierge"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "concierge"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for concierge.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "concierge")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "concierge-data") // fallback
	}
	return filepath.Join(homeDir, ".local", "share", "concierge")
}

// StorePath returns the SQLite database path, creating the parent
// directory if needed
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return expandEnv(c.Store.Path), nil
	}
	dir := GetDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return filepath.Join(dir, "concierge.db"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// NeedsSetup returns true if config file doesn't exist
func NeedsSetup() bool {
	return !Exists()
}

// Save writes the config to disk
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`provider: %s

server:
  bind: %s
  port: %d
  # token: ${CONCIERGE_SERVER_TOKEN}

quota:
  daily_limit: %d

agent:
  max_tool_iterations: %d

anthropic:
  model: %s
%s
openai:
  model: %s
%s
gemini:
  model: %s
%s
# platform:
#   base_url: https://api.gatherly.example
#   token: ${GATHERLY_API_TOKEN}

# telegram:
#   token: ${TELEGRAM_BOT_TOKEN}
#   chat_id: 0
`,
		cfg.Provider,
		cfg.Server.Bind,
		cfg.Server.Port,
		cfg.Quota.DailyLimit,
		cfg.Agent.MaxToolIterations,
		cfg.Anthropic.Model,
		apiKeyLine(cfg.Anthropic.APIKey),
		cfg.OpenAI.Model,
		apiKeyLine(cfg.OpenAI.APIKey),
		cfg.Gemini.Model,
		apiKeyLine(cfg.Gemini.APIKey),
	)

	mode := os.FileMode(0o644)
	if cfg.Anthropic.APIKey != "" || cfg.OpenAI.APIKey != "" || cfg.Gemini.APIKey != "" {
		// The file holds a credential now, keep it private.
		mode = 0o600
	}

	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// apiKeyLine renders an api_key entry for a provider section. Keys are
// normally left in the environment, so an empty key produces no line.
func apiKeyLine(key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("  api_key: %s\n", key)
}
