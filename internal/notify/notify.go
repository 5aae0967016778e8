// Package notify pushes organizer notifications for conversation
// milestones: a tool call parked awaiting confirmation, and a
// completed planning session.
package notify

import (
	"context"

	"github.com/gatherly/concierge/internal/llm"
)

// Noop discards every notification. It stands in when no delivery
// channel is configured.
type Noop struct{}

func (Noop) ConfirmationParked(context.Context, string, llm.ToolCall) error { return nil }

func (Noop) ConversationCompleted(context.Context, string, string) error { return nil }
