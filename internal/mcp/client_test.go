package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/tools"
)

func TestCreateStdioTransport_InheritsEnv(t *testing.T) {
	// Server with custom env should inherit parent PATH
	client := NewClient(config.MCPServerConfig{
		Name:    "test",
		Command: "echo",
		Args:    []string{"hello"},
		Env: map[string]string{
			"CUSTOM_VAR": "custom_value",
		},
	})

	transport := client.createStdioTransport(context.Background())
	ct, ok := transport.(*sdkmcp.CommandTransport)
	if !ok {
		t.Fatal("expected sdkmcp.CommandTransport")
	}

	env := ct.Command.Env
	if env == nil {
		t.Fatal("expected non-nil env when config has env vars")
	}

	hasPath := false
	hasCustom := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
		}
		if e == "CUSTOM_VAR=custom_value" {
			hasCustom = true
		}
	}

	if !hasPath {
		t.Error("parent PATH not inherited in subprocess env")
	}
	if !hasCustom {
		t.Error("custom env var not set")
	}
}

func TestCreateStdioTransport_NoEnvNil(t *testing.T) {
	// Server with no custom env should leave cmd.Env nil (inherit all)
	client := NewClient(config.MCPServerConfig{
		Name:    "test",
		Command: "echo",
		Args:    []string{"hello"},
	})

	transport := client.createStdioTransport(context.Background())
	ct, ok := transport.(*sdkmcp.CommandTransport)
	if !ok {
		t.Fatal("expected sdkmcp.CommandTransport")
	}

	if ct.Command.Env != nil {
		t.Error("expected nil env when no config env vars (inherits parent automatically)")
	}
}

func TestCreateStdioTransport_EmptyEnvNil(t *testing.T) {
	client := NewClient(config.MCPServerConfig{
		Name:    "test",
		Command: "echo",
		Args:    []string{"hello"},
		Env:     map[string]string{},
	})

	transport := client.createStdioTransport(context.Background())
	ct, ok := transport.(*sdkmcp.CommandTransport)
	if !ok {
		t.Fatal("expected sdkmcp.CommandTransport")
	}

	if ct.Command.Env != nil {
		t.Error("expected nil env when env map is empty")
	}
}

func TestCreateStdioTransport_EnvOverridesParent(t *testing.T) {
	t.Setenv("TEST_MCP_VAR", "original")

	client := NewClient(config.MCPServerConfig{
		Name:    "test",
		Command: "echo",
		Env: map[string]string{
			"TEST_MCP_VAR": "overridden",
		},
	})

	transport := client.createStdioTransport(context.Background())
	ct := transport.(*sdkmcp.CommandTransport)

	// The overridden value should appear (last wins in exec.Cmd)
	found := false
	for _, e := range ct.Command.Env {
		if e == "TEST_MCP_VAR=overridden" {
			found = true
		}
	}
	if !found {
		t.Error("expected overridden env var in subprocess env")
	}
}

func TestCallToolRequiresRunningServer(t *testing.T) {
	client := NewClient(config.MCPServerConfig{Name: "vendor_db", Command: "echo"})

	_, err := client.CallTool(context.Background(), "search", nil)
	if err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("expected not-running error, got %v", err)
	}
}

func TestToolSpecPrefixesServerName(t *testing.T) {
	client := NewClient(config.MCPServerConfig{Name: "vendor_db", Command: "echo"})
	tool := NewTool(client, ToolSpec{
		Name:        "search",
		Description: "Search the vendor database",
		Schema:      map[string]any{"type": "object"},
	})

	spec := tool.Spec()
	if spec.Name != "vendor_db__search" {
		t.Errorf("Name = %q, want vendor_db__search", spec.Name)
	}
	if spec.Description != "[vendor_db] Search the vendor database" {
		t.Errorf("Description = %q", spec.Description)
	}
	if spec.Schema["type"] != "object" {
		t.Errorf("Schema = %v, want passthrough", spec.Schema)
	}
	if !tool.SideEffecting() {
		t.Error("imported tools must always require confirmation")
	}
}

func TestTextResultPassesThroughJSON(t *testing.T) {
	result := textResult("vendor_db__search", `{"matches":3}`)

	if !result.Success {
		t.Fatal("expected success")
	}
	if string(result.Data) != `{"matches":3}` {
		t.Errorf("Data = %s, want raw JSON passthrough", result.Data)
	}
	if !strings.Contains(result.Summary, "returned 13 characters") {
		t.Errorf("Summary = %q", result.Summary)
	}
}

func TestTextResultWrapsPlainText(t *testing.T) {
	result := textResult("vendor_db__search", "three caterers found")

	var wrapped struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(result.Data, &wrapped); err != nil {
		t.Fatalf("Data is not a JSON object: %v", err)
	}
	if wrapped.Content != "three caterers found" {
		t.Errorf("content = %q", wrapped.Content)
	}
}

func TestRegisterServersSkipsUnreachable(t *testing.T) {
	registry := tools.NewRegistry()
	cfgs := []config.MCPServerConfig{
		{Name: "ghost", Command: "/nonexistent/mcp-server-binary"},
	}

	clients := RegisterServers(context.Background(), cfgs, registry, nil)

	if len(clients) != 0 {
		t.Errorf("expected no connected clients, got %d", len(clients))
	}
	if names := registry.Names(); len(names) != 0 {
		t.Errorf("expected empty registry, got %v", names)
	}
}
