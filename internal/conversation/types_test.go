package conversation

import (
	"encoding/json"
	"testing"

	"github.com/gatherly/concierge/internal/llm"
)

func TestMessageValidate(t *testing.T) {
	calls := []llm.ToolCall{{ID: "call-1", Name: "search_vendors", Arguments: json.RawMessage(`{}`)}}

	tests := []struct {
		name    string
		msg     *Message
		wantErr bool
	}{
		{"user", UserMessage("c", "hello"), false},
		{"system", SystemMessage("c", "be brief"), false},
		{"assistant text", AssistantMessage("c", "sure", nil), false},
		{"assistant calls only", AssistantMessage("c", "", calls), false},
		{"tool", ToolResultMessage("c", llm.ToolResult{ID: "call-1", Name: "search_vendors", Content: "ok"}), false},
		{"missing conversation", UserMessage("", "hello"), true},
		{"empty user", UserMessage("c", ""), true},
		{"user with calls", &Message{ConversationID: "c", Role: llm.RoleUser, Content: "x", ToolCalls: calls}, true},
		{"assistant empty", AssistantMessage("c", "", nil), true},
		{"assistant with call id", &Message{ConversationID: "c", Role: llm.RoleAssistant, Content: "x", ToolCallID: "call-1"}, true},
		{"tool without call id", &Message{ConversationID: "c", Role: llm.RoleTool, Content: "x"}, true},
		{"unknown role", &Message{ConversationID: "c", Role: "moderator", Content: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestMessageToLLM(t *testing.T) {
	calls := []llm.ToolCall{{ID: "call-1", Name: "search_vendors", Arguments: json.RawMessage(`{"city":"Lisbon"}`)}}

	user := UserMessage("c", "hello").ToLLM()
	if user.Role != llm.RoleUser || user.Text() != "hello" {
		t.Errorf("unexpected user conversion: %+v", user)
	}

	assistant := AssistantMessage("c", "checking", calls).ToLLM()
	if assistant.Role != llm.RoleAssistant {
		t.Errorf("expected assistant role, got %q", assistant.Role)
	}
	if got := assistant.ToolCalls(); len(got) != 1 || got[0].ID != "call-1" {
		t.Errorf("tool calls did not survive conversion: %+v", got)
	}

	okResult := ToolResultMessage("c", llm.ToolResult{ID: "call-1", Name: "search_vendors", Content: "found"}).ToLLM()
	if okResult.Role != llm.RoleTool {
		t.Fatalf("expected tool role, got %q", okResult.Role)
	}
	if len(okResult.Parts) != 1 || okResult.Parts[0].Type != llm.PartToolResult {
		t.Fatalf("expected a single tool result part, got %+v", okResult.Parts)
	}
	if okResult.Parts[0].ToolResult.IsError {
		t.Error("success result should not be marked as error")
	}

	failed := ToolResultMessage("c", llm.ToolResult{ID: "call-1", Name: "search_vendors", Content: "boom", IsError: true}).ToLLM()
	if !failed.Parts[0].ToolResult.IsError {
		t.Error("error result lost its error flag")
	}
}

func TestToolCallsJSONRoundTrip(t *testing.T) {
	msg := AssistantMessage("c", "on it", []llm.ToolCall{
		{ID: "call-1", Name: "search_vendors", Arguments: json.RawMessage(`{"category":"catering"}`)},
		{ID: "call-2", Name: "estimate_budget", Arguments: json.RawMessage(`{"guests":120}`)},
	})

	data, err := msg.ToolCallsJSON()
	if err != nil {
		t.Fatalf("failed to serialize tool calls: %v", err)
	}

	var restored Message
	if err := restored.SetToolCallsFromJSON(data); err != nil {
		t.Fatalf("failed to restore tool calls: %v", err)
	}
	if len(restored.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(restored.ToolCalls))
	}
	if restored.ToolCalls[1].Name != "estimate_budget" {
		t.Errorf("expected estimate_budget, got %q", restored.ToolCalls[1].Name)
	}
	if string(restored.ToolCalls[0].Arguments) != `{"category":"catering"}` {
		t.Errorf("arguments did not round trip: %s", restored.ToolCalls[0].Arguments)
	}

	empty, err := (&Message{}).ToolCallsJSON()
	if err != nil || empty != "" {
		t.Errorf("expected empty serialization for no calls, got %q, %v", empty, err)
	}
}
