package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/concierge/internal/llm"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Conversation is one planning dialogue owned by a single user. It is
// created on the first user message and mutated by the orchestrator on
// each turn; this subsystem never deletes conversations.
type Conversation struct {
	ID        string
	UserID    string
	Status    Status
	EntityID  string          // set when a terminal tool creates the target entity
	Context   json.RawMessage // free-form blob owned by callers
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one append-only entry in a conversation transcript.
// Exactly four shapes are valid, one per role:
//
//	user:      Content set
//	assistant: Content and/or ToolCalls set
//	system:    Content set
//	tool:      ToolCallID, ToolName and Content set
//
// Use the constructors below rather than building Message literals;
// Validate rejects anything outside the four shapes.
type Message struct {
	ID             string
	ConversationID string
	Role           llm.Role
	Content        string
	ToolCalls      []llm.ToolCall // assistant messages only
	ToolCallID     string         // tool messages only
	ToolName       string         // tool messages only
	IsError        bool           // tool messages only
	Sequence       int
	CreatedAt      time.Time
}

// UserMessage builds a user turn.
func UserMessage(conversationID, content string) *Message {
	return &Message{
		ConversationID: conversationID,
		Role:           llm.RoleUser,
		Content:        content,
		Sequence:       -1,
	}
}

// AssistantMessage builds an assistant turn with the tool calls the
// model requested, if any.
func AssistantMessage(conversationID, content string, calls []llm.ToolCall) *Message {
	return &Message{
		ConversationID: conversationID,
		Role:           llm.RoleAssistant,
		Content:        content,
		ToolCalls:      calls,
		Sequence:       -1,
	}
}

// SystemMessage builds a system turn.
func SystemMessage(conversationID, content string) *Message {
	return &Message{
		ConversationID: conversationID,
		Role:           llm.RoleSystem,
		Content:        content,
		Sequence:       -1,
	}
}

// ToolResultMessage builds a tool turn recording the outcome of one
// executed tool call.
func ToolResultMessage(conversationID string, result llm.ToolResult) *Message {
	return &Message{
		ConversationID: conversationID,
		Role:           llm.RoleTool,
		Content:        result.Content,
		ToolCallID:     result.ID,
		ToolName:       result.Name,
		IsError:        result.IsError,
		Sequence:       -1,
	}
}

// Validate checks that the message matches one of the four valid role
// shapes.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return fmt.Errorf("message missing conversation id")
	}
	switch m.Role {
	case llm.RoleUser, llm.RoleSystem:
		if m.Content == "" {
			return fmt.Errorf("%s message requires content", m.Role)
		}
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
			return fmt.Errorf("%s message cannot carry tool calls", m.Role)
		}
	case llm.RoleAssistant:
		if m.Content == "" && len(m.ToolCalls) == 0 {
			return fmt.Errorf("assistant message requires content or tool calls")
		}
		if m.ToolCallID != "" {
			return fmt.Errorf("assistant message cannot carry a tool call id")
		}
	case llm.RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool message requires a tool call id")
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("tool message cannot carry tool calls")
		}
	default:
		return fmt.Errorf("unknown message role %q", m.Role)
	}
	return nil
}

// ToLLM converts the stored message into the provider-facing shape.
func (m *Message) ToLLM() llm.Message {
	switch m.Role {
	case llm.RoleSystem:
		return llm.SystemText(m.Content)
	case llm.RoleUser:
		return llm.UserText(m.Content)
	case llm.RoleAssistant:
		if len(m.ToolCalls) > 0 {
			return llm.AssistantTurn(m.Content, m.ToolCalls)
		}
		return llm.AssistantText(m.Content)
	case llm.RoleTool:
		if m.IsError {
			return llm.ToolErrorMessage(m.ToolCallID, m.ToolName, m.Content)
		}
		return llm.ToolResultMessage(m.ToolCallID, m.ToolName, m.Content)
	}
	return llm.Message{Role: m.Role}
}

// ToolCallsJSON serializes the tool calls for storage. Returns "" when
// there are none.
func (m *Message) ToolCallsJSON() (string, error) {
	if len(m.ToolCalls) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return "", fmt.Errorf("marshal tool calls: %w", err)
	}
	return string(data), nil
}

// SetToolCallsFromJSON restores tool calls from their stored form.
func (m *Message) SetToolCallsFromJSON(data string) error {
	if data == "" {
		m.ToolCalls = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &m.ToolCalls)
}

// PendingConfirmation is a side-effecting tool call parked until the
// user approves or the conversation is abandoned. Rows form a FIFO
// queue per conversation; only the oldest unresolved row is surfaced
// to the client at any time.
type PendingConfirmation struct {
	ID             string
	ConversationID string
	ToolCallID     string
	ToolName       string
	Arguments      json.RawMessage
	Position       int
	Resolved       bool
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// NewPending parks a tool call at the tail of the conversation's
// confirmation queue.
func NewPending(conversationID string, call llm.ToolCall) *PendingConfirmation {
	return &PendingConfirmation{
		ConversationID: conversationID,
		ToolCallID:     call.ID,
		ToolName:       call.Name,
		Arguments:      call.Arguments,
		Position:       -1,
	}
}

// NewID returns a fresh uuid for conversations, messages and pending
// confirmations.
func NewID() string {
	return uuid.NewString()
}
