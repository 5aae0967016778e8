package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestQuota(t *testing.T, limit int) *SQLiteQuota {
	t.Helper()
	q, err := NewSQLiteQuota(filepath.Join(t.TempDir(), "quota.db"), limit)
	if err != nil {
		t.Fatalf("failed to create quota store: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQuotaAllowsUntilLimitReached(t *testing.T) {
	q := newTestQuota(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := q.Check(ctx, "alice")
		if err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("expected call %d to be allowed", i)
		}
		if d.Remaining != 3-i {
			t.Errorf("call %d: expected remaining %d, got %d", i, 3-i, d.Remaining)
		}
		if err := q.Increment(ctx, "alice"); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}

	d, err := q.Check(ctx, "alice")
	if err != nil {
		t.Fatalf("final check failed: %v", err)
	}
	if d.Allowed {
		t.Error("expected quota to be exhausted")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", d.Remaining)
	}
	if d.RetryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %v", d.RetryAfter)
	}
}

func TestQuotaRetryAfterPointsAtNextUTCMidnight(t *testing.T) {
	q := newTestQuota(t, 1)
	q.now = func() time.Time {
		return time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	}

	d, err := q.Check(context.Background(), "alice")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if d.RetryAfter != time.Hour {
		t.Errorf("expected retry-after 1h, got %v", d.RetryAfter)
	}
}

func TestQuotaResetsAtUTCMidnight(t *testing.T) {
	q := newTestQuota(t, 1)
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	if err := q.Increment(ctx, "alice"); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	d, err := q.Check(ctx, "alice")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected quota exhausted before midnight")
	}

	clock = time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC)
	d, err = q.Check(ctx, "alice")
	if err != nil {
		t.Fatalf("check after midnight failed: %v", err)
	}
	if !d.Allowed {
		t.Error("expected fresh quota after UTC midnight")
	}
	if d.Remaining != 1 {
		t.Errorf("expected full allowance after reset, got %d", d.Remaining)
	}
}

func TestQuotaTracksUsersIndependently(t *testing.T) {
	q := newTestQuota(t, 1)
	ctx := context.Background()

	if err := q.Increment(ctx, "alice"); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	alice, err := q.Check(ctx, "alice")
	if err != nil {
		t.Fatalf("check alice failed: %v", err)
	}
	if alice.Allowed {
		t.Error("expected alice to be over quota")
	}

	bob, err := q.Check(ctx, "bob")
	if err != nil {
		t.Fatalf("check bob failed: %v", err)
	}
	if !bob.Allowed {
		t.Error("expected bob to be unaffected by alice's usage")
	}
}

func TestQuotaPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.db")
	ctx := context.Background()

	q, err := NewSQLiteQuota(path, 1)
	if err != nil {
		t.Fatalf("failed to create quota store: %v", err)
	}
	if err := q.Increment(ctx, "alice"); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewSQLiteQuota(path, 1)
	if err != nil {
		t.Fatalf("failed to reopen quota store: %v", err)
	}
	defer reopened.Close()

	d, err := reopened.Check(ctx, "alice")
	if err != nil {
		t.Fatalf("check after reopen failed: %v", err)
	}
	if d.Allowed {
		t.Error("expected usage to survive reopen")
	}
}

func TestUnlimitedQuota(t *testing.T) {
	svc, err := New(filepath.Join(t.TempDir(), "quota.db"), 0)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := svc.Increment(ctx, "alice"); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}
	d, err := svc.Check(ctx, "alice")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !d.Allowed {
		t.Error("unlimited quota should always allow")
	}
}
