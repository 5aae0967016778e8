package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/gatherly/concierge/internal/conversation"
)

var (
	// ErrConversationBusy means another turn currently holds the
	// conversation's single-writer lock.
	ErrConversationBusy = errors.New("conversation busy: a turn is already in flight")

	// ErrUnknownToolCall means a confirm request named a tool call that
	// is not queued for the conversation, or named a queued call with
	// the wrong tool name.
	ErrUnknownToolCall = errors.New("unknown tool call")

	// ErrAlreadyResolved re-exports the store sentinel so transports
	// can map confirm conflicts without reaching into the store
	// package.
	ErrAlreadyResolved = conversation.ErrAlreadyResolved

	// ErrEmptyMessage rejects chat turns that carry no user text.
	ErrEmptyMessage = errors.New("userMessage must not be empty")
)

// QuotaExceededError reports a spent daily message budget. The turn
// never starts and no provider call is made.
type QuotaExceededError struct {
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily message quota exceeded, resets in %s", e.RetryAfter.Round(time.Second))
}
