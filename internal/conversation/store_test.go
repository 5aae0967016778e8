package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gatherly/concierge/internal/llm"
)

// forEachStore runs a behavioral test against both store
// implementations so they cannot drift apart.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "concierge.db"))
		if err != nil {
			t.Fatalf("failed to create sqlite store: %v", err)
		}
		defer store.Close()
		fn(t, store)
	})

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
}

func TestCreateAndGetConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		conv := &Conversation{ID: "conv-1", UserID: "user-1"}
		if err := store.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}
		if conv.Status != StatusActive {
			t.Errorf("expected default status %q, got %q", StatusActive, conv.Status)
		}
		if conv.CreatedAt.IsZero() || conv.UpdatedAt.IsZero() {
			t.Error("expected timestamps to be filled")
		}

		loaded, err := store.GetConversation(ctx, "conv-1")
		if err != nil {
			t.Fatalf("failed to load conversation: %v", err)
		}
		if loaded.UserID != "user-1" {
			t.Errorf("expected user-1, got %q", loaded.UserID)
		}
		if loaded.Status != StatusActive {
			t.Errorf("expected active status, got %q", loaded.Status)
		}

		if _, err := store.GetConversation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing conversation, got %v", err)
		}
	})
}

func TestCreateConversationFillsID(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		conv := &Conversation{UserID: "user-1"}
		if err := store.CreateConversation(context.Background(), conv); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}
		if conv.ID == "" {
			t.Error("expected generated id")
		}
	})
}

func TestAppendAndListMessages(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		conv := &Conversation{ID: "conv-1", UserID: "user-1"}
		if err := store.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}

		calls := []llm.ToolCall{{
			ID:        "call-1",
			Name:      "search_vendors",
			Arguments: json.RawMessage(`{"category":"catering"}`),
		}}

		msgs := []*Message{
			UserMessage("conv-1", "Find me a caterer in Lisbon"),
			AssistantMessage("conv-1", "Let me look.", calls),
			ToolResultMessage("conv-1", llm.ToolResult{
				ID:      "call-1",
				Name:    "search_vendors",
				Content: "Found 2 catering vendors in Lisbon",
			}),
		}
		for _, msg := range msgs {
			if err := store.AppendMessage(ctx, msg); err != nil {
				t.Fatalf("failed to append message: %v", err)
			}
		}

		listed, err := store.ListMessages(ctx, "conv-1")
		if err != nil {
			t.Fatalf("failed to list messages: %v", err)
		}
		if len(listed) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(listed))
		}
		for i, msg := range listed {
			if msg.Sequence != i {
				t.Errorf("message %d: expected sequence %d, got %d", i, i, msg.Sequence)
			}
		}

		if listed[0].Role != llm.RoleUser || listed[0].Content != "Find me a caterer in Lisbon" {
			t.Errorf("unexpected user message: %+v", listed[0])
		}
		if len(listed[1].ToolCalls) != 1 {
			t.Fatalf("expected 1 tool call on assistant message, got %d", len(listed[1].ToolCalls))
		}
		if got := string(listed[1].ToolCalls[0].Arguments); got != `{"category":"catering"}` {
			t.Errorf("tool call arguments did not round trip: %s", got)
		}
		if listed[2].ToolCallID != "call-1" || listed[2].ToolName != "search_vendors" {
			t.Errorf("unexpected tool message: %+v", listed[2])
		}
	})
}

func TestAppendMessageRequiresConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		err := store.AppendMessage(context.Background(), UserMessage("missing", "hello"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAppendMessageValidatesShape(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateConversation(ctx, &Conversation{ID: "conv-1", UserID: "u"}); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}

		bad := UserMessage("conv-1", "hi")
		bad.ToolCalls = []llm.ToolCall{{ID: "x", Name: "y"}}
		if err := store.AppendMessage(ctx, bad); err == nil {
			t.Error("expected validation error for user message with tool calls")
		}
	})
}

func TestAppendMessageAdvancesUpdatedAt(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		conv := &Conversation{ID: "conv-1", UserID: "u", CreatedAt: created, UpdatedAt: created}
		if err := store.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}

		if err := store.AppendMessage(ctx, UserMessage("conv-1", "hello")); err != nil {
			t.Fatalf("failed to append message: %v", err)
		}

		loaded, err := store.GetConversation(ctx, "conv-1")
		if err != nil {
			t.Fatalf("failed to load conversation: %v", err)
		}
		if !loaded.UpdatedAt.After(created) {
			t.Errorf("expected updated_at to advance past %v, got %v", created, loaded.UpdatedAt)
		}
	})
}

func TestMarkCompleteRecordsEntity(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateConversation(ctx, &Conversation{ID: "conv-1", UserID: "u"}); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}

		if err := store.MarkComplete(ctx, "conv-1", "evt_42"); err != nil {
			t.Fatalf("failed to mark complete: %v", err)
		}

		loaded, err := store.GetConversation(ctx, "conv-1")
		if err != nil {
			t.Fatalf("failed to load conversation: %v", err)
		}
		if loaded.Status != StatusCompleted {
			t.Errorf("expected completed status, got %q", loaded.Status)
		}
		if loaded.EntityID != "evt_42" {
			t.Errorf("expected entity evt_42, got %q", loaded.EntityID)
		}

		if err := store.MarkComplete(ctx, "missing", "evt_1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMarkAbandoned(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateConversation(ctx, &Conversation{ID: "conv-1", UserID: "u"}); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}

		if err := store.MarkAbandoned(ctx, "conv-1"); err != nil {
			t.Fatalf("failed to mark abandoned: %v", err)
		}

		loaded, err := store.GetConversation(ctx, "conv-1")
		if err != nil {
			t.Fatalf("failed to load conversation: %v", err)
		}
		if loaded.Status != StatusAbandoned {
			t.Errorf("expected abandoned status, got %q", loaded.Status)
		}
	})
}

func TestPendingQueueIsFIFO(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateConversation(ctx, &Conversation{ID: "conv-1", UserID: "u"}); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}

		for i, id := range []string{"call-a", "call-b", "call-c"} {
			p := NewPending("conv-1", llm.ToolCall{
				ID:        id,
				Name:      "book_vendor",
				Arguments: json.RawMessage(`{"vendorId":"v1"}`),
			})
			if err := store.EnqueuePending(ctx, p); err != nil {
				t.Fatalf("failed to enqueue pending %d: %v", i, err)
			}
		}

		queue, err := store.PendingQueue(ctx, "conv-1")
		if err != nil {
			t.Fatalf("failed to read pending queue: %v", err)
		}
		if len(queue) != 3 {
			t.Fatalf("expected 3 pending confirmations, got %d", len(queue))
		}
		for i, want := range []string{"call-a", "call-b", "call-c"} {
			if queue[i].ToolCallID != want {
				t.Errorf("queue position %d: expected %s, got %s", i, want, queue[i].ToolCallID)
			}
		}

		resolved, err := store.ResolvePending(ctx, "conv-1", "call-a")
		if err != nil {
			t.Fatalf("failed to resolve head: %v", err)
		}
		if resolved.ToolName != "book_vendor" {
			t.Errorf("expected tool name book_vendor, got %q", resolved.ToolName)
		}
		if string(resolved.Arguments) != `{"vendorId":"v1"}` {
			t.Errorf("arguments did not round trip: %s", resolved.Arguments)
		}
		if !resolved.Resolved || resolved.ResolvedAt == nil {
			t.Error("expected resolved row to be marked resolved")
		}

		queue, err = store.PendingQueue(ctx, "conv-1")
		if err != nil {
			t.Fatalf("failed to re-read pending queue: %v", err)
		}
		if len(queue) != 2 || queue[0].ToolCallID != "call-b" {
			t.Errorf("expected call-b at queue head, got %+v", queue)
		}
	})
}

func TestResolvePendingEnforcesSingleExecution(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateConversation(ctx, &Conversation{ID: "conv-1", UserID: "u"}); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}
		p := NewPending("conv-1", llm.ToolCall{ID: "call-1", Name: "create_event", Arguments: json.RawMessage(`{}`)})
		if err := store.EnqueuePending(ctx, p); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}

		if _, err := store.ResolvePending(ctx, "conv-1", "call-1"); err != nil {
			t.Fatalf("first resolve failed: %v", err)
		}
		if _, err := store.ResolvePending(ctx, "conv-1", "call-1"); !errors.Is(err, ErrAlreadyResolved) {
			t.Errorf("expected ErrAlreadyResolved on second resolve, got %v", err)
		}
		if _, err := store.ResolvePending(ctx, "conv-1", "never-queued"); !errors.Is(err, ErrPendingNotFound) {
			t.Errorf("expected ErrPendingNotFound for unknown id, got %v", err)
		}
	})
}

func TestResolvePendingConsumesOldestDuplicate(t *testing.T) {
	// Synthesized call ids can repeat across turns within one
	// conversation; each resolve must consume exactly one row, oldest
	// first.
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateConversation(ctx, &Conversation{ID: "conv-1", UserID: "u"}); err != nil {
			t.Fatalf("failed to create conversation: %v", err)
		}

		first := NewPending("conv-1", llm.ToolCall{ID: "call_0", Name: "book_vendor", Arguments: json.RawMessage(`{"turn":1}`)})
		second := NewPending("conv-1", llm.ToolCall{ID: "call_0", Name: "book_vendor", Arguments: json.RawMessage(`{"turn":2}`)})
		if err := store.EnqueuePending(ctx, first); err != nil {
			t.Fatalf("failed to enqueue first: %v", err)
		}
		if err := store.EnqueuePending(ctx, second); err != nil {
			t.Fatalf("failed to enqueue second: %v", err)
		}

		got, err := store.ResolvePending(ctx, "conv-1", "call_0")
		if err != nil {
			t.Fatalf("first resolve failed: %v", err)
		}
		if string(got.Arguments) != `{"turn":1}` {
			t.Errorf("expected oldest row first, got %s", got.Arguments)
		}

		got, err = store.ResolvePending(ctx, "conv-1", "call_0")
		if err != nil {
			t.Fatalf("second resolve failed: %v", err)
		}
		if string(got.Arguments) != `{"turn":2}` {
			t.Errorf("expected second row next, got %s", got.Arguments)
		}

		if _, err := store.ResolvePending(ctx, "conv-1", "call_0"); !errors.Is(err, ErrAlreadyResolved) {
			t.Errorf("expected ErrAlreadyResolved once queue drained, got %v", err)
		}
	})
}

func TestListConversationsByUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		seed := []*Conversation{
			{ID: "conv-old", UserID: "alice", CreatedAt: base, UpdatedAt: base},
			{ID: "conv-new", UserID: "alice", CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)},
			{ID: "conv-other", UserID: "bob", CreatedAt: base, UpdatedAt: base},
		}
		for _, conv := range seed {
			if err := store.CreateConversation(ctx, conv); err != nil {
				t.Fatalf("failed to create %s: %v", conv.ID, err)
			}
		}

		listed, err := store.ListConversations(ctx, "alice")
		if err != nil {
			t.Fatalf("failed to list conversations: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("expected 2 conversations for alice, got %d", len(listed))
		}
		if listed[0].ID != "conv-new" || listed[1].ID != "conv-old" {
			t.Errorf("expected most recently updated first, got %s then %s", listed[0].ID, listed[1].ID)
		}
	})
}
