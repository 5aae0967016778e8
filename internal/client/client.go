// Package client consumes the concierge HTTP API: a thin request
// client plus the streaming consumer the terminal UIs drive.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gatherly/concierge/internal/wire"
)

// Client issues requests against a concierge server.
type Client struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
}

// New builds a client for the server at baseURL. token may be empty
// for servers running without auth; userID sets the identity header
// on every request.
func New(baseURL, token, userID string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		userID:  userID,
		// No overall timeout: chat responses stream for as long as the
		// turn runs. Cancellation is the caller's context.
		http: &http.Client{},
	}
}

// APIError is a non-2xx server response.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("server returned %d: %s (retry after %s)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// EventStream is one turn's server-sent event sequence.
type EventStream struct {
	conversationID string
	body           io.ReadCloser
	dec            *wire.Decoder
}

// ConversationID reports the id echoed by the server. It is how a
// client learns the id of a conversation it did not mint itself.
func (s *EventStream) ConversationID() string { return s.conversationID }

// Next returns the next frame, or io.EOF at end of stream.
func (s *EventStream) Next() (wire.Frame, error) { return s.dec.Next() }

func (s *EventStream) Close() error { return s.body.Close() }

// Chat starts a turn. conversationID may be empty to start a new
// conversation; the assigned id is on the returned stream.
func (c *Client) Chat(ctx context.Context, conversationID, userMessage string) (*EventStream, error) {
	return c.stream(ctx, "/api/chat", wire.ChatRequest{
		ConversationID: conversationID,
		UserMessage:    userMessage,
	})
}

// Confirm approves a parked tool call and streams its execution.
func (c *Client) Confirm(ctx context.Context, conversationID string, call wire.ToolCallPayload) (*EventStream, error) {
	return c.stream(ctx, "/api/confirm", wire.ConfirmRequest{
		ConversationID: conversationID,
		ToolCallID:     call.ID,
		ToolName:       call.Name,
		Arguments:      call.Arguments,
	})
}

func (c *Client) stream(ctx context.Context, path string, payload any) (*EventStream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.setIdentity(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return &EventStream{
		conversationID: resp.Header.Get("X-Conversation-ID"),
		body:           resp.Body,
		dec:            wire.NewDecoder(resp.Body),
	}, nil
}

// Conversations lists the caller's conversations, newest first.
func (c *Client) Conversations(ctx context.Context) ([]wire.ConversationSummary, error) {
	var out []wire.ConversationSummary
	if err := c.getJSON(ctx, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages lists a conversation's transcript in order.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]wire.MessageView, error) {
	var out []wire.MessageView
	if err := c.getJSON(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setIdentity(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

func (c *Client) setIdentity(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
}

// decodeAPIError reads the server's JSON error envelope. retryAfter
// comes from the envelope when present, from the Retry-After header
// otherwise.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil {
		var envelope wire.ErrorResponse
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			apiErr.RetryAfter = time.Duration(envelope.RetryAfter) * time.Second
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if apiErr.RetryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
