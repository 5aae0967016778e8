package agent

import "context"

const eventBuffer = 16

// TurnStream delivers one turn's events in emission order. The
// orchestrator produces into the stream from its own goroutine; the
// channel closes after the terminal done or error event.
type TurnStream struct {
	conversationID string
	events         chan Event
	cancel         context.CancelFunc
}

// ConversationID identifies the conversation the turn runs against.
// Transports surface it to clients that opened a turn without one.
func (s *TurnStream) ConversationID() string { return s.conversationID }

// Events returns the turn's event channel.
func (s *TurnStream) Events() <-chan Event { return s.events }

// Close abandons the turn. The producer stops at its next suspension
// point and the turn persists no assistant message.
func (s *TurnStream) Close() { s.cancel() }

// startTurn runs work in a producer goroutine that owns the
// conversation lock for the duration of the turn. A non-nil error from
// work becomes the stream's terminal error event unless the turn was
// abandoned, in which case nobody is listening and the stream just
// closes.
func (o *Orchestrator) startTurn(parent context.Context, conversationID string, work func(ctx context.Context, emit func(Event) error) error) *TurnStream {
	ctx, cancel := context.WithCancel(parent)
	s := &TurnStream{
		conversationID: conversationID,
		events:         make(chan Event, eventBuffer),
		cancel:         cancel,
	}
	emit := func(ev Event) error {
		select {
		case s.events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go func() {
		defer close(s.events)
		defer cancel()
		defer o.locks.unlock(conversationID)
		err := work(ctx, emit)
		if err == nil || ctx.Err() != nil {
			return
		}
		o.logger.Error("turn failed", "conversation", conversationID, "error", err)
		select {
		case s.events <- Event{Type: EventError, Err: err}:
		case <-ctx.Done():
		}
	}()
	return s
}
