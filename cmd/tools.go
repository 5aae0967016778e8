package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatherly/concierge/internal/tools"
)

var toolsJSON bool

// ToolInfo describes one registered tool for listings and scripting.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Mode        string `json:"mode"` // auto, confirm, or disabled
	Terminal    bool   `json:"terminal"`
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the concierge can call",
	Long: `List the built-in tool catalog with each tool's execution mode.

auto     runs immediately during a turn
confirm  parks the turn until the organizer approves the call
disabled switched off by a tools.disabled pattern in config

MCP server tools are imported at serve time and always require
confirmation; configured servers are listed here without connecting.

Examples:
  concierge tools
  concierge tools --json`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	classifier, err := tools.NewClassifier(cfg.Tools)
	if err != nil {
		return err
	}
	registry := tools.NewBuiltinRegistry(tools.NewPlatformClient(cfg.Platform), classifier)

	var infos []ToolInfo
	for _, name := range registry.Names() {
		tool, _ := registry.Get(name)
		spec := tool.Spec()
		mode := classifier.Classify(name, tool.SideEffecting()).String()
		if classifier.Disabled(name) {
			mode = "disabled"
		}
		infos = append(infos, ToolInfo{
			Name:        name,
			Description: spec.Description,
			Mode:        mode,
			Terminal:    registry.IsTerminal(name),
		})
	}

	if toolsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	maxLen := 0
	for _, info := range infos {
		if len(info.Name) > maxLen {
			maxLen = len(info.Name)
		}
	}
	for _, info := range infos {
		padding := strings.Repeat(" ", maxLen-len(info.Name))
		note := ""
		if info.Terminal {
			note = " [completes the conversation]"
		}
		fmt.Printf("%s%s  %-8s  %s%s\n", info.Name, padding, info.Mode, clip(info.Description, 70), note)
	}

	if len(cfg.MCP.Servers) > 0 {
		fmt.Println()
		fmt.Println("MCP servers (tools imported at serve time, always confirm):")
		for _, server := range cfg.MCP.Servers {
			fmt.Printf("  %s: %s %s\n", server.Name, server.Command, strings.Join(server.Args, " "))
		}
	}
	return nil
}
