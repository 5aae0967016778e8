// Package wire defines the streaming contract between the concierge
// server and its clients: the request bodies, the named server-sent
// events a turn emits, and their JSON payloads. Events arrive strictly
// in emission order over one connection per turn; every turn ends with
// a done or error event.
package wire

import (
	"encoding/json"
	"time"
)

// Event names, in the order a turn can emit them.
const (
	EventThinking    = "thinking"
	EventText        = "text"
	EventToolStart   = "tool_start"
	EventToolPending = "tool_pending"
	EventToolResult  = "tool_result"
	EventDone        = "done"
	EventError       = "error"
)

// ChatRequest starts (or continues) a conversation turn.
type ChatRequest struct {
	ConversationID string `json:"conversationId"`
	UserMessage    string `json:"userMessage"`
}

// ConfirmRequest approves one parked tool call. The identifiers must
// match a still-pending confirmation exactly.
type ConfirmRequest struct {
	ConversationID string          `json:"conversationId"`
	ToolCallID     string          `json:"toolCallId"`
	ToolName       string          `json:"toolName"`
	Arguments      json.RawMessage `json:"arguments,omitempty"`
}

// TextPayload carries one streamed fragment of assistant prose.
type TextPayload struct {
	Content string `json:"content"`
}

// ToolCallPayload describes a tool invocation. It is the payload of
// tool_start and tool_pending events and appears in done listings.
type ToolCallPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultPayload reports the outcome of one executed tool call.
type ToolResultPayload struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Summary string          `json:"summary"`
}

// DonePayload closes a turn. PendingConfirmations lists the still
// unresolved queue so clients know approvals remain even though only
// the head was surfaced as tool_pending.
type DonePayload struct {
	Message              string              `json:"message"`
	ToolCalls            []ToolCallPayload   `json:"toolCalls"`
	ToolResults          []ToolResultPayload `json:"toolResults"`
	PendingConfirmations []ToolCallPayload   `json:"pendingConfirmations"`
	IsComplete           bool                `json:"isComplete"`
	EntityID             string              `json:"entityId,omitempty"`
}

// ErrorPayload terminates a turn that failed after streaming began.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ErrorResponse is the JSON body of non-streaming error replies,
// rejected before any event was emitted.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfterSeconds,omitempty"`
}

// ConversationSummary is one row of the conversation listing.
type ConversationSummary struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	EntityID  string    `json:"entityId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageView is one transcript entry in the message listing.
type MessageView struct {
	ID         string            `json:"id"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallPayload `json:"toolCalls,omitempty"`
	ToolCallID string            `json:"toolCallId,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
