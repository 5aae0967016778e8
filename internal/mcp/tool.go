package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/llm"
	"github.com/gatherly/concierge/internal/tools"
)

// Tool exposes one MCP server tool through the concierge tool
// interface. Names are prefixed with the server name so two servers
// can advertise the same tool without colliding.
type Tool struct {
	client *Client
	spec   ToolSpec
}

// NewTool wraps a server tool for registration.
func NewTool(client *Client, spec ToolSpec) *Tool {
	return &Tool{client: client, spec: spec}
}

func (t *Tool) fullName() string {
	return t.client.Name() + "__" + t.spec.Name
}

// Spec returns the prefixed tool specification for the provider.
func (t *Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.fullName(),
		Description: fmt.Sprintf("[%s] %s", t.client.Name(), t.spec.Description),
		Schema:      t.spec.Schema,
	}
}

// SideEffecting always reports true. The server runs outside the
// process boundary, so every call goes through organizer confirmation.
func (t *Tool) SideEffecting() bool {
	return true
}

// Execute routes the call to the server.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	text, err := t.client.CallTool(ctx, t.spec.Name, args)
	if err != nil {
		return tools.Result{}, err
	}
	return textResult(t.fullName(), text), nil
}

// textResult shapes server output as a successful result. JSON output
// passes through as structured data; plain text is wrapped so the
// result stays a JSON object either way.
func textResult(name, text string) tools.Result {
	result := tools.Result{
		Name:    name,
		Success: true,
		Summary: fmt.Sprintf("%s returned %d characters", name, len(text)),
	}
	if json.Valid([]byte(text)) {
		result.Data = json.RawMessage(text)
	} else if data, err := json.Marshal(map[string]string{"content": text}); err == nil {
		result.Data = data
	}
	return result
}

// RegisterServers connects each configured server and registers its
// tools. A server that fails to connect is logged and skipped; the
// rest of the startup proceeds without its tools.
func RegisterServers(ctx context.Context, cfgs []config.MCPServerConfig, registry *tools.Registry, logger *slog.Logger) []*Client {
	if logger == nil {
		logger = slog.Default()
	}

	var clients []*Client
	seen := make(map[string]bool)
	for _, cfg := range cfgs {
		if cfg.Name == "" || seen[cfg.Name] {
			logger.Warn("skipping mcp server with missing or duplicate name", "server", cfg.Name)
			continue
		}
		seen[cfg.Name] = true

		client := NewClient(cfg)
		if err := client.Start(ctx); err != nil {
			logger.Warn("mcp server unavailable, its tools are disabled", "server", cfg.Name, "error", err)
			continue
		}

		specs := client.Tools()
		for _, spec := range specs {
			registry.Register(NewTool(client, spec))
		}
		logger.Info("mcp server connected", "server", cfg.Name, "tools", len(specs))
		clients = append(clients, client)
	}
	return clients
}

// StopAll closes every connected server session.
func StopAll(clients []*Client) {
	for _, c := range clients {
		c.Stop()
	}
}
