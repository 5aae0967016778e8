// Package quota enforces per-user daily limits on provider calls.
// Usage is counted per UTC day; the counter resets at UTC midnight.
package quota

import (
	"context"
	"time"
)

// Decision reports whether a user may make another provider call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // time until the next UTC midnight reset
}

// Service checks and records provider-call usage. Check runs before a
// provider call; Increment runs only after the call succeeds.
type Service interface {
	Check(ctx context.Context, userID string) (Decision, error)
	Increment(ctx context.Context, userID string) error
	Close() error
}

// New returns the quota service for the configured daily limit. A
// limit of zero or less disables enforcement entirely.
func New(path string, dailyLimit int) (Service, error) {
	if dailyLimit <= 0 {
		return Unlimited(), nil
	}
	return NewSQLiteQuota(path, dailyLimit)
}

// Unlimited returns a service that never denies.
func Unlimited() Service {
	return unlimited{}
}

type unlimited struct{}

func (unlimited) Check(context.Context, string) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}

func (unlimited) Increment(context.Context, string) error { return nil }

func (unlimited) Close() error { return nil }

// dayKey is the UTC day a usage event counts against.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// untilReset is the time remaining until the next UTC midnight.
func untilReset(t time.Time) time.Duration {
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return midnight.Sub(utc)
}
