package llm

import (
	"fmt"
	"strings"
	"time"
)

// AuthError indicates the provider rejected our credentials (401/403).
// Authentication failures are reported immediately and never retried.
type AuthError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s authentication failed (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s authentication failed (%d)", e.Provider, e.StatusCode)
}

// RateLimitError represents a 429 with optional retry information from
// the server.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded (retry after %s)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// TransientError covers server errors and connection failures that are
// worth retrying.
type TransientError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s transient error (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s transient error: %s", e.Provider, e.Message)
}

// RetriesExhaustedError is returned when every attempt failed with a
// retryable error.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// statusError maps an HTTP status from a provider endpoint to the
// error taxonomy above.
func statusError(provider string, status int, body string) error {
	body = strings.TrimSpace(body)
	switch {
	case status == 401 || status == 403:
		return &AuthError{Provider: provider, StatusCode: status, Message: body}
	case status == 429:
		return &RateLimitError{Provider: provider, Message: body}
	case status == 408 || status >= 500:
		return &TransientError{Provider: provider, StatusCode: status, Message: body}
	default:
		return fmt.Errorf("%s request failed (%d): %s", provider, status, body)
	}
}

// classifyStreamError maps SDK errors, which surface as opaque error
// strings, onto the taxonomy. Unrecognized errors pass through.
func classifyStreamError(provider string, err error) error {
	if err == nil {
		return nil
	}
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid x-api-key") ||
		strings.Contains(errStr, "permission denied") {
		return &AuthError{Provider: provider, StatusCode: 401, Message: err.Error()}
	}

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "resource exhausted") {
		return &RateLimitError{Provider: provider, Message: err.Error()}
	}

	if strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "no such host") {
		return &TransientError{Provider: provider, Message: err.Error()}
	}

	return err
}
