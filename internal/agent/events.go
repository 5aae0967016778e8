package agent

import (
	"github.com/gatherly/concierge/internal/llm"
	"github.com/gatherly/concierge/internal/tools"
)

// EventType names a turn event. The values match the transport event
// vocabulary so transports can forward them without translation.
type EventType string

const (
	// EventThinking is a pacing signal emitted when a provider call
	// starts. It carries no payload.
	EventThinking EventType = "thinking"
	// EventText carries one verbatim chunk of assistant text.
	EventText EventType = "text"
	// EventToolStart announces an auto tool about to execute.
	EventToolStart EventType = "tool_start"
	// EventToolPending surfaces the head of the confirmation queue.
	// The turn stops advancing until the call is confirmed.
	EventToolPending EventType = "tool_pending"
	// EventToolResult reports one finished tool execution.
	EventToolResult EventType = "tool_result"
	// EventDone terminates a successful turn.
	EventDone EventType = "done"
	// EventError terminates a failed turn.
	EventError EventType = "error"
)

// Event is one unit of turn output. Exactly one payload field is set
// according to Type; Done and Error events are terminal.
type Event struct {
	Type   EventType
	Text   string        // EventText
	Call   *llm.ToolCall // EventToolStart, EventToolPending
	Result *tools.Result // EventToolResult
	Done   *TurnSummary  // EventDone
	Err    error         // EventError
}

// TurnSummary is the terminal payload of a completed turn.
type TurnSummary struct {
	// Message is the accumulated assistant text across every provider
	// call of the turn.
	Message string
	// ToolCalls lists the finalized calls the model requested, in
	// emission order, including calls parked for confirmation.
	ToolCalls []llm.ToolCall
	// ToolResults lists executed tool outcomes in execution order.
	ToolResults []tools.Result
	// PendingConfirmations is the conversation's full unresolved
	// confirmation queue after the turn, oldest first.
	PendingConfirmations []llm.ToolCall
	// IsComplete reports whether the conversation has reached its
	// terminal created-entity state.
	IsComplete bool
	// EntityID is the created entity's id once IsComplete is true.
	EntityID string
}
