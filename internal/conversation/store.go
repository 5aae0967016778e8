// Package conversation persists planning dialogues: the conversations
// themselves, their append-only message transcripts, and the FIFO queue
// of tool calls parked for user confirmation.
package conversation

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrPendingNotFound is returned when no pending confirmation
	// matches the given identifiers.
	ErrPendingNotFound = errors.New("pending confirmation not found")

	// ErrAlreadyResolved is returned when a confirmation has been
	// consumed before. The store enforces single execution; a second
	// resolve attempt never returns the row again.
	ErrAlreadyResolved = errors.New("confirmation already resolved")
)

// Store is the persistence boundary for conversations. All write
// operations are durable before they return. Implementations must be
// safe for concurrent use.
type Store interface {
	// CreateConversation inserts a new conversation. A missing ID is
	// filled with a fresh uuid; missing timestamps with the current
	// UTC time; a missing status with StatusActive.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation returns the conversation or ErrNotFound.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns a user's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// AppendMessage validates and appends a message to its
	// conversation. Sequence is allocated atomically when negative.
	// The conversation's updated timestamp is advanced in the same
	// write.
	AppendMessage(ctx context.Context, msg *Message) error

	// ListMessages returns a conversation's transcript in sequence
	// order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// MarkComplete transitions the conversation to completed and
	// records the entity the dialogue produced.
	MarkComplete(ctx context.Context, conversationID, entityID string) error

	// MarkAbandoned transitions the conversation to abandoned.
	MarkAbandoned(ctx context.Context, conversationID string) error

	// EnqueuePending appends a confirmation to the conversation's
	// queue. Position is allocated atomically when negative.
	EnqueuePending(ctx context.Context, p *PendingConfirmation) error

	// PendingQueue returns a conversation's unresolved confirmations
	// in queue order. The head of the slice is the surfaced slot.
	PendingQueue(ctx context.Context, conversationID string) ([]PendingConfirmation, error)

	// ResolvePending atomically consumes the oldest unresolved
	// confirmation matching the call id and returns it. A row that
	// was consumed before yields ErrAlreadyResolved; an id that was
	// never queued yields ErrPendingNotFound.
	ResolvePending(ctx context.Context, conversationID, toolCallID string) (*PendingConfirmation, error)

	// Close releases the store's resources.
	Close() error
}
