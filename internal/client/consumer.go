package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gatherly/concierge/internal/wire"
)

// State is the consumer's position in a turn's lifecycle.
type State string

const (
	// StateIdle means no turn is in flight.
	StateIdle State = "idle"
	// StateLoading means a request was sent but no event arrived yet.
	StateLoading State = "loading"
	// StateStreaming means turn events are arriving.
	StateStreaming State = "streaming"
	// StateAwaitingConfirmation means the turn stalled on a gated tool
	// call and the user must confirm or cancel it.
	StateAwaitingConfirmation State = "awaiting_confirmation"
	// StateDone means the turn finished normally.
	StateDone State = "done"
	// StateError means the turn failed; Err holds the cause.
	StateError State = "error"
)

// Consumer drives turns against a server and folds their event
// sequences into renderable state. Callers start a turn with Send,
// Retry, or ConfirmTool, then call Step until it reports no more
// events. Safe for concurrent use: UIs may read snapshots while a
// step is blocked on the network.
type Consumer struct {
	client *Client

	mu             sync.Mutex
	state          State
	conversationID string
	lastMessage    string
	text           strings.Builder
	executing      []wire.ToolCallPayload
	results        []wire.ToolResultPayload
	pending        *wire.ToolCallPayload
	done           *wire.DonePayload
	err            error
	stream         *EventStream
}

// NewConsumer wraps a client. With an empty conversation id the first
// Send starts a fresh conversation.
func NewConsumer(c *Client, conversationID string) *Consumer {
	return &Consumer{
		client:         c,
		state:          StateIdle,
		conversationID: conversationID,
	}
}

// Send begins a new turn with the user's message.
func (c *Consumer) Send(ctx context.Context, message string) error {
	c.mu.Lock()
	if c.state == StateLoading || c.state == StateStreaming {
		c.mu.Unlock()
		return errors.New("a turn is already in flight")
	}
	c.resetTurn()
	c.lastMessage = message
	c.state = StateLoading
	conversationID := c.conversationID
	c.mu.Unlock()

	stream, err := c.client.Chat(ctx, conversationID, message)
	if err != nil {
		c.fail(err)
		return err
	}
	c.adopt(stream)
	return nil
}

// Retry resubmits the last user message as a fresh turn.
func (c *Consumer) Retry(ctx context.Context) error {
	c.mu.Lock()
	message := c.lastMessage
	c.mu.Unlock()
	if message == "" {
		return errors.New("nothing to retry")
	}
	return c.Send(ctx, message)
}

// ConfirmTool approves the surfaced pending call and streams its
// execution. Accumulated text and results from the stalled turn are
// kept so the transcript reads as one exchange.
func (c *Consumer) ConfirmTool(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateAwaitingConfirmation || c.pending == nil {
		c.mu.Unlock()
		return errors.New("no confirmation is pending")
	}
	call := *c.pending
	conversationID := c.conversationID
	c.pending = nil
	c.done = nil
	c.state = StateLoading
	c.mu.Unlock()

	stream, err := c.client.Confirm(ctx, conversationID, call)
	if err != nil {
		c.fail(err)
		return err
	}
	c.adopt(stream)
	return nil
}

// CancelTool discards the surfaced pending call locally. The server
// keeps it queued, so it can still be confirmed in a later session.
func (c *Consumer) CancelTool() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	c.pending = nil
	if c.state == StateAwaitingConfirmation {
		c.state = StateDone
	}
}

// Abort hangs up the in-flight turn and returns to idle.
func (c *Consumer) Abort() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	if c.state == StateLoading || c.state == StateStreaming {
		c.state = StateIdle
	}
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// Step reads and applies the next event of the in-flight turn,
// returning the frame and whether more events remain. Once the turn
// reaches a terminal state it closes the transport. A stream that
// ends without a done or error event moves the consumer to
// StateError: the contract guarantees a terminal event, so its
// absence means the connection broke.
func (c *Consumer) Step() (wire.Frame, bool, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return wire.Frame{}, false, nil
	}

	frame, err := stream.Next()
	c.mu.Lock()
	if c.stream != stream {
		// Abort detached this stream mid-read; its state stands.
		c.mu.Unlock()
		stream.Close()
		return wire.Frame{}, false, nil
	}
	c.mu.Unlock()
	if err != nil {
		stream.Close()
		c.mu.Lock()
		c.stream = nil
		cut := err
		if errors.Is(err, io.EOF) {
			cut = errors.New("connection closed before the turn finished")
		}
		c.err = fmt.Errorf("stream ended early: %w", cut)
		c.state = StateError
		c.mu.Unlock()
		return wire.Frame{}, false, c.Err()
	}

	if err := c.apply(frame); err != nil {
		stream.Close()
		c.mu.Lock()
		c.stream = nil
		c.err = err
		c.state = StateError
		c.mu.Unlock()
		return frame, false, err
	}

	c.mu.Lock()
	terminal := c.state == StateDone || c.state == StateAwaitingConfirmation || c.state == StateError
	if terminal {
		c.stream = nil
	}
	c.mu.Unlock()
	if terminal {
		stream.Close()
		return frame, false, nil
	}
	return frame, true, nil
}

func (c *Consumer) apply(frame wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch frame.Event {
	case wire.EventThinking:
		if c.state == StateLoading {
			c.state = StateStreaming
		}
	case wire.EventText:
		var payload wire.TextPayload
		if err := frame.Decode(&payload); err != nil {
			return fmt.Errorf("decode text event: %w", err)
		}
		c.text.WriteString(payload.Content)
		c.state = StateStreaming
	case wire.EventToolStart:
		var call wire.ToolCallPayload
		if err := frame.Decode(&call); err != nil {
			return fmt.Errorf("decode tool_start event: %w", err)
		}
		c.executing = append(c.executing, call)
		c.state = StateStreaming
	case wire.EventToolResult:
		var result wire.ToolResultPayload
		if err := frame.Decode(&result); err != nil {
			return fmt.Errorf("decode tool_result event: %w", err)
		}
		c.results = append(c.results, result)
		c.removeExecuting(result.ID)
	case wire.EventToolPending:
		var call wire.ToolCallPayload
		if err := frame.Decode(&call); err != nil {
			return fmt.Errorf("decode tool_pending event: %w", err)
		}
		// Only the first surfaced call needs a decision now; the rest
		// of the queue arrives in the done listing.
		if c.pending == nil {
			c.pending = &call
		}
	case wire.EventDone:
		var payload wire.DonePayload
		if err := frame.Decode(&payload); err != nil {
			return fmt.Errorf("decode done event: %w", err)
		}
		c.done = &payload
		if c.pending != nil {
			c.state = StateAwaitingConfirmation
		} else {
			c.state = StateDone
		}
	case wire.EventError:
		var payload wire.ErrorPayload
		if err := frame.Decode(&payload); err != nil {
			return fmt.Errorf("decode error event: %w", err)
		}
		c.err = errors.New(payload.Message)
		c.state = StateError
	default:
		// Ignore events outside the vocabulary.
	}
	return nil
}

func (c *Consumer) removeExecuting(id string) {
	for i := range c.executing {
		if c.executing[i].ID == id {
			c.executing = append(c.executing[:i], c.executing[i+1:]...)
			return
		}
	}
}

// resetTurn clears per-turn accumulators. The caller holds the lock.
func (c *Consumer) resetTurn() {
	c.text.Reset()
	c.executing = nil
	c.results = nil
	c.pending = nil
	c.done = nil
	c.err = nil
}

func (c *Consumer) adopt(stream *EventStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = stream
	if id := stream.ConversationID(); id != "" {
		c.conversationID = id
	}
}

func (c *Consumer) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.state = StateError
}

// State reports the current lifecycle position.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConversationID reports the active conversation, empty before the
// first turn of a fresh conversation is acknowledged.
func (c *Consumer) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Text returns the assistant prose accumulated so far this turn.
func (c *Consumer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

// Executing lists tool calls started but not yet resolved.
func (c *Consumer) Executing() []wire.ToolCallPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.ToolCallPayload, len(c.executing))
	copy(out, c.executing)
	return out
}

// Results lists tool results received this turn, oldest first.
func (c *Consumer) Results() []wire.ToolResultPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.ToolResultPayload, len(c.results))
	copy(out, c.results)
	return out
}

// Pending returns the surfaced call awaiting a decision, or nil.
func (c *Consumer) Pending() *wire.ToolCallPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	call := *c.pending
	return &call
}

// Done returns the turn's closing payload, nil until the turn ends.
func (c *Consumer) Done() *wire.DonePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return nil
	}
	payload := *c.done
	return &payload
}

// Err returns the failure that moved the consumer to StateError.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// LastMessage returns the most recently sent user message.
func (c *Consumer) LastMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMessage
}
