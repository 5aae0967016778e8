package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_usage (
    user_id TEXT NOT NULL,
    day TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, day)
);
`

// SQLiteQuota implements Service with a per-(user, UTC day) counter.
type SQLiteQuota struct {
	db    *sql.DB
	limit int
	now   func() time.Time
}

// NewSQLiteQuota opens (or creates) the counter database at path.
func NewSQLiteQuota(path string, dailyLimit int) (*SQLiteQuota, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteQuota{db: db, limit: dailyLimit, now: time.Now}, nil
}

// Check reports whether the user has quota left today. RetryAfter is
// always the time until the next UTC midnight; callers surface it when
// Allowed is false.
func (s *SQLiteQuota) Check(ctx context.Context, userID string) (Decision, error) {
	now := s.now()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM daily_usage WHERE user_id = ? AND day = ?`,
		userID, dayKey(now)).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Decision{}, fmt.Errorf("read usage: %w", err)
	}

	remaining := s.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    count < s.limit,
		Remaining:  remaining,
		RetryAfter: untilReset(now),
	}, nil
}

// Increment records one successful provider call. A single UPSERT so
// concurrent increments cannot lose updates.
func (s *SQLiteQuota) Increment(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_usage (user_id, day, count) VALUES (?, ?, 1)
		ON CONFLICT (user_id, day) DO UPDATE SET count = count + 1`,
		userID, dayKey(s.now()))
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteQuota) Close() error {
	return s.db.Close()
}
