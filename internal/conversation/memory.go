package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It mirrors the
// SQLite store's semantics exactly and backs tests and ephemeral runs.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	messages      map[string][]Message
	pending       map[string][]PendingConfirmation
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		pending:       make(map[string][]PendingConfirmation),
	}
}

// CreateConversation inserts a new conversation, filling defaults for
// missing fields.
func (s *MemoryStore) CreateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = NewID()
	}
	if conv.Status == "" {
		conv.Status = StatusActive
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	clone := *conv
	s.conversations[conv.ID] = &clone
	return nil
}

// GetConversation returns the conversation or ErrNotFound.
func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

// ListConversations returns a user's conversations, most recently
// updated first.
func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		clone := *conv
		results = append(results, &clone)
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// AppendMessage appends a message, allocating its sequence when unset
// and advancing the conversation's updated timestamp.
func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Sequence < 0 {
		next := 0
		for _, m := range s.messages[msg.ConversationID] {
			if m.Sequence >= next {
				next = m.Sequence + 1
			}
		}
		msg.Sequence = next
	}
	conv.UpdatedAt = msg.CreatedAt

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

// ListMessages returns a conversation's transcript in sequence order.
func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// MarkComplete transitions the conversation to completed and records
// the created entity.
func (s *MemoryStore) MarkComplete(_ context.Context, conversationID, entityID string) error {
	return s.setStatus(conversationID, StatusCompleted, entityID)
}

// MarkAbandoned transitions the conversation to abandoned.
func (s *MemoryStore) MarkAbandoned(_ context.Context, conversationID string) error {
	return s.setStatus(conversationID, StatusAbandoned, "")
}

func (s *MemoryStore) setStatus(conversationID string, status Status, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.Status = status
	if entityID != "" {
		conv.EntityID = entityID
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// EnqueuePending appends a confirmation to the conversation's queue.
func (s *MemoryStore) EnqueuePending(_ context.Context, p *PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[p.ConversationID]; !ok {
		return ErrNotFound
	}
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Position < 0 {
		next := 0
		for _, q := range s.pending[p.ConversationID] {
			if q.Position >= next {
				next = q.Position + 1
			}
		}
		p.Position = next
	}

	s.pending[p.ConversationID] = append(s.pending[p.ConversationID], *p)
	return nil
}

// PendingQueue returns a conversation's unresolved confirmations in
// queue order.
func (s *MemoryStore) PendingQueue(_ context.Context, conversationID string) ([]PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queue []PendingConfirmation
	for _, p := range s.pending[conversationID] {
		if !p.Resolved {
			queue = append(queue, p)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].Position < queue[j].Position })
	return queue, nil
}

// ResolvePending consumes the oldest unresolved confirmation matching
// the call id.
func (s *MemoryStore) ResolvePending(_ context.Context, conversationID, toolCallID string) (*PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pending[conversationID]
	best := -1
	seen := false
	for i, p := range queue {
		if p.ToolCallID != toolCallID {
			continue
		}
		seen = true
		if p.Resolved {
			continue
		}
		if best < 0 || p.Position < queue[best].Position {
			best = i
		}
	}
	if best < 0 {
		if seen {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrPendingNotFound
	}

	now := time.Now().UTC()
	queue[best].Resolved = true
	queue[best].ResolvedAt = &now
	resolved := queue[best]
	return &resolved, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
