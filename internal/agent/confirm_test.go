package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/gatherly/concierge/internal/conversation"
	"github.com/gatherly/concierge/internal/llm"
)

func TestConfirmExecutesAndCompletes(t *testing.T) {
	f := newFixture(t, script{chunks: []llm.Chunk{
		textChunk("Ready to create it."),
		callStart(0, "call_5", "create_event", `{"name":"Gala"}`),
		finishChunk("tool_calls"),
	}})

	ctx := context.Background()
	stream, err := f.orch.ChatTurn(ctx, TurnRequest{UserID: "alice", UserMessage: "create a conference for 200 people"})
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	drain(t, stream)
	convID := stream.ConversationID()

	confirm, err := f.orch.ConfirmAndExecute(ctx, ConfirmRequest{
		ConversationID: convID,
		UserID:         "alice",
		ToolCallID:     "call_5",
		ToolName:       "create_event",
	})
	if err != nil {
		t.Fatalf("ConfirmAndExecute: %v", err)
	}
	events := drain(t, confirm)
	wantTypes(t, events, EventToolResult, EventDone)

	if events[0].Result == nil || !events[0].Result.Success || events[0].Result.ID != "call_5" {
		t.Errorf("tool_result = %+v", events[0].Result)
	}
	done := doneSummary(t, events)
	if !done.IsComplete || done.EntityID != "evt_99" {
		t.Errorf("done = %+v, want complete with entity evt_99", done)
	}

	if f.create.callCount() != 1 {
		t.Fatalf("create_event executed %d times, want 1", f.create.callCount())
	}
	if got := f.create.lastArgs(); got != `{"name":"Gala"}` {
		t.Errorf("create_event got arguments %q, want the queued ones", got)
	}

	conv, err := f.store.GetConversation(ctx, convID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Status != conversation.StatusCompleted || conv.EntityID != "evt_99" {
		t.Errorf("conversation = %+v", conv)
	}

	msgs, err := f.store.ListMessages(ctx, convID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	lastMsg := msgs[len(msgs)-1]
	if lastMsg.Role != llm.RoleTool || lastMsg.ToolCallID != "call_5" {
		t.Errorf("confirm turn's tool message = %+v", lastMsg)
	}

	queue, err := f.store.PendingQueue(ctx, convID)
	if err != nil {
		t.Fatalf("PendingQueue: %v", err)
	}
	if len(queue) != 0 {
		t.Errorf("queue after confirm = %+v", queue)
	}

	// no provider call happens on the confirm path
	if got := len(f.provider.requests()); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}

	f.notifier.await(t) // parked during the chat turn
	f.notifier.await(t) // completion ping
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.completed) != 1 || f.notifier.completed[0] != "evt_99" {
		t.Errorf("completion notifications = %+v", f.notifier.completed)
	}
}

func TestConfirmRejectsUnknownMismatchedAndResolved(t *testing.T) {
	f := newFixture(t, script{chunks: []llm.Chunk{
		callStart(0, "call_5", "book_vendor", `{"vendorId":"v1"}`),
		finishChunk("tool_calls"),
	}})

	ctx := context.Background()
	stream, err := f.orch.ChatTurn(ctx, TurnRequest{UserID: "alice", UserMessage: "book it"})
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	drain(t, stream)
	convID := stream.ConversationID()

	// an id that was never queued
	_, err = f.orch.ConfirmAndExecute(ctx, ConfirmRequest{ConversationID: convID, UserID: "alice", ToolCallID: "call_404", ToolName: "book_vendor"})
	if !errors.Is(err, ErrUnknownToolCall) {
		t.Fatalf("unknown id error = %v, want ErrUnknownToolCall", err)
	}

	// right id, wrong tool name: rejected without consuming the entry
	_, err = f.orch.ConfirmAndExecute(ctx, ConfirmRequest{ConversationID: convID, UserID: "alice", ToolCallID: "call_5", ToolName: "search_vendors"})
	if !errors.Is(err, ErrUnknownToolCall) {
		t.Fatalf("name mismatch error = %v, want ErrUnknownToolCall", err)
	}
	if queue, _ := f.store.PendingQueue(ctx, convID); len(queue) != 1 {
		t.Fatal("name mismatch must not consume the pending confirmation")
	}

	confirm, err := f.orch.ConfirmAndExecute(ctx, ConfirmRequest{ConversationID: convID, UserID: "alice", ToolCallID: "call_5", ToolName: "book_vendor"})
	if err != nil {
		t.Fatalf("ConfirmAndExecute: %v", err)
	}
	drain(t, confirm)
	if f.book.callCount() != 1 {
		t.Fatalf("book_vendor executed %d times, want 1", f.book.callCount())
	}

	// a second confirm fails and never executes twice
	_, err = f.orch.ConfirmAndExecute(ctx, ConfirmRequest{ConversationID: convID, UserID: "alice", ToolCallID: "call_5", ToolName: "book_vendor"})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second confirm error = %v, want ErrAlreadyResolved", err)
	}
	if f.book.callCount() != 1 {
		t.Error("second confirm executed the tool again")
	}
}

func TestConfirmSurfacesNextQueuedConfirmation(t *testing.T) {
	f := newFixture(t, script{chunks: []llm.Chunk{
		callStart(0, "call_1", "book_vendor", `{"vendorId":"v1"}`),
		callStart(1, "call_2", "book_vendor", `{"vendorId":"v2"}`),
		finishChunk("tool_calls"),
	}})

	ctx := context.Background()
	stream, err := f.orch.ChatTurn(ctx, TurnRequest{UserID: "alice", UserMessage: "book both"})
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	events := drain(t, stream)

	// only the queue head surfaces while both are parked
	var surfaced []string
	for _, ev := range events {
		if ev.Type == EventToolPending {
			surfaced = append(surfaced, ev.Call.ID)
		}
	}
	if len(surfaced) != 1 || surfaced[0] != "call_1" {
		t.Fatalf("chat turn surfaced %v, want just call_1", surfaced)
	}
	done := doneSummary(t, events)
	if len(done.PendingConfirmations) != 2 {
		t.Fatalf("queue = %+v", done.PendingConfirmations)
	}

	confirm, err := f.orch.ConfirmAndExecute(ctx, ConfirmRequest{
		ConversationID: stream.ConversationID(),
		UserID:         "alice",
		ToolCallID:     "call_1",
		ToolName:       "book_vendor",
	})
	if err != nil {
		t.Fatalf("ConfirmAndExecute: %v", err)
	}
	confirmEvents := drain(t, confirm)
	wantTypes(t, confirmEvents, EventToolResult, EventToolPending, EventDone)
	if confirmEvents[1].Call.ID != "call_2" {
		t.Errorf("next pending = %+v", confirmEvents[1].Call)
	}

	confirmDone := doneSummary(t, confirmEvents)
	if len(confirmDone.PendingConfirmations) != 1 || confirmDone.PendingConfirmations[0].ID != "call_2" {
		t.Errorf("remaining queue = %+v", confirmDone.PendingConfirmations)
	}
	if confirmDone.IsComplete {
		t.Error("booking must not complete the conversation")
	}
}

func TestForeignConversationsLookMissing(t *testing.T) {
	f := newFixture(t, script{chunks: []llm.Chunk{textChunk("hi alice"), finishChunk("stop")}})

	ctx := context.Background()
	stream, err := f.orch.ChatTurn(ctx, TurnRequest{UserID: "alice", UserMessage: "hi"})
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	drain(t, stream)
	convID := stream.ConversationID()

	_, err = f.orch.ChatTurn(ctx, TurnRequest{ConversationID: convID, UserID: "mallory", UserMessage: "hello"})
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("foreign chat error = %v, want ErrNotFound", err)
	}
	_, err = f.orch.ConfirmAndExecute(ctx, ConfirmRequest{ConversationID: convID, UserID: "mallory", ToolCallID: "call_1", ToolName: "book_vendor"})
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("foreign confirm error = %v, want ErrNotFound", err)
	}
}
