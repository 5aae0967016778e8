package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gatherly/concierge/internal/llm"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and brings
// its schema up to date.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Timestamps are stored as RFC3339 UTC text so rows stay readable and
// portable across drivers.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// CreateConversation inserts a new conversation, filling defaults for
// missing fields.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, status, entity_id, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, string(conv.Status), nullString(conv.EntityID),
		nullString(string(conv.Context)), formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation or ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, entity_id, context, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var status, createdAt, updatedAt string
	var entityID, contextBlob sql.NullString
	err := row.Scan(&conv.ID, &conv.UserID, &status, &entityID, &contextBlob, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.Status = Status(status)
	if entityID.Valid {
		conv.EntityID = entityID.String
	}
	if contextBlob.Valid {
		conv.Context = []byte(contextBlob.String)
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns a user's conversations, most recently
// updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, entity_id, context, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var results []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, conv)
	}
	return results, rows.Err()
}

// AppendMessage appends a message, allocating its sequence atomically
// when unset and advancing the conversation's updated timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	toolCallsJSON, err := msg.ToolCallsJSON()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if msg.Sequence < 0 {
		var maxSeq sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(sequence) FROM messages WHERE conversation_id = ?`,
			msg.ConversationID).Scan(&maxSeq)
		if err != nil {
			return fmt.Errorf("get max sequence: %w", err)
		}
		if maxSeq.Valid {
			msg.Sequence = int(maxSeq.Int64) + 1
		} else {
			msg.Sequence = 0
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, tool_name, is_error, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content,
		nullString(toolCallsJSON), nullString(msg.ToolCallID), nullString(msg.ToolName),
		msg.IsError, msg.Sequence, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's transcript in sequence order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, tool_calls, tool_call_id, tool_name, is_error, sequence, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var role, createdAt string
		var toolCalls, toolCallID, toolName sql.NullString
		err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content,
			&toolCalls, &toolCallID, &toolName, &msg.IsError, &msg.Sequence, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = llm.Role(role)
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}
		if toolName.Valid {
			msg.ToolName = toolName.String
		}
		if err := msg.SetToolCallsFromJSON(toolCalls.String); err != nil {
			return nil, fmt.Errorf("deserialize tool calls: %w", err)
		}
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkComplete transitions the conversation to completed and records
// the created entity.
func (s *SQLiteStore) MarkComplete(ctx context.Context, conversationID, entityID string) error {
	return s.setStatus(ctx, conversationID, StatusCompleted, entityID)
}

// MarkAbandoned transitions the conversation to abandoned.
func (s *SQLiteStore) MarkAbandoned(ctx context.Context, conversationID string) error {
	return s.setStatus(ctx, conversationID, StatusAbandoned, "")
}

func (s *SQLiteStore) setStatus(ctx context.Context, conversationID string, status Status, entityID string) error {
	var result sql.Result
	var err error
	if entityID != "" {
		result, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET status = ?, entity_id = ?, updated_at = ? WHERE id = ?`,
			string(status), entityID, formatTime(time.Now()), conversationID)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), formatTime(time.Now()), conversationID)
	}
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnqueuePending appends a confirmation to the conversation's queue,
// allocating its position atomically when unset.
func (s *SQLiteStore) EnqueuePending(ctx context.Context, p *PendingConfirmation) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if p.Position < 0 {
		var maxPos sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(position) FROM pending_confirmations WHERE conversation_id = ?`,
			p.ConversationID).Scan(&maxPos)
		if err != nil {
			return fmt.Errorf("get max position: %w", err)
		}
		if maxPos.Valid {
			p.Position = int(maxPos.Int64) + 1
		} else {
			p.Position = 0
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_confirmations (id, conversation_id, tool_call_id, tool_name, arguments, position, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		p.ID, p.ConversationID, p.ToolCallID, p.ToolName, string(p.Arguments),
		p.Position, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert pending confirmation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PendingQueue returns a conversation's unresolved confirmations in
// queue order.
func (s *SQLiteStore) PendingQueue(ctx context.Context, conversationID string) ([]PendingConfirmation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, tool_call_id, tool_name, arguments, position, resolved, created_at, resolved_at
		FROM pending_confirmations
		WHERE conversation_id = ? AND resolved = 0
		ORDER BY position ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query pending confirmations: %w", err)
	}
	defer rows.Close()

	var queue []PendingConfirmation
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		queue = append(queue, *p)
	}
	return queue, rows.Err()
}

func scanPending(row rowScanner) (*PendingConfirmation, error) {
	var p PendingConfirmation
	var arguments, createdAt string
	var resolvedAt sql.NullString
	err := row.Scan(&p.ID, &p.ConversationID, &p.ToolCallID, &p.ToolName,
		&arguments, &p.Position, &p.Resolved, &createdAt, &resolvedAt)
	if err != nil {
		return nil, fmt.Errorf("scan pending confirmation: %w", err)
	}
	p.Arguments = []byte(arguments)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, err
		}
		p.ResolvedAt = &t
	}
	return &p, nil
}

// ResolvePending consumes the oldest unresolved confirmation matching
// the call id. The row is marked resolved in the same transaction that
// reads it, so a confirmation executes at most once.
func (s *SQLiteStore) ResolvePending(ctx context.Context, conversationID, toolCallID string) (*PendingConfirmation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, conversation_id, tool_call_id, tool_name, arguments, position, resolved, created_at, resolved_at
		FROM pending_confirmations
		WHERE conversation_id = ? AND tool_call_id = ? AND resolved = 0
		ORDER BY position ASC
		LIMIT 1`, conversationID, toolCallID)

	p, err := scanPending(row)
	if err == nil {
		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`UPDATE pending_confirmations SET resolved = 1, resolved_at = ? WHERE id = ?`,
			formatTime(now), p.ID)
		if err != nil {
			return nil, fmt.Errorf("mark resolved: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		p.Resolved = true
		p.ResolvedAt = &now
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_confirmations
		WHERE conversation_id = ? AND tool_call_id = ?`,
		conversationID, toolCallID).Scan(&count); err != nil {
		return nil, fmt.Errorf("check resolved confirmations: %w", err)
	}
	if count > 0 {
		return nil, ErrAlreadyResolved
	}
	return nil, ErrPendingNotFound
}
