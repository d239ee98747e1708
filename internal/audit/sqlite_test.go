package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLiteSink(ctx, newTestSQLite(t))
	if err != nil {
		t.Fatalf("NewSQLiteSink failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	entries := []Entry{
		{Timestamp: now, Action: "LoginFailed", EntityType: "User", EntityID: "alice", Severity: SeverityWarning},
		{Timestamp: now, Action: "SecurityViolation", EntityType: "User", EntityID: "alice", Severity: SeveritySecurity,
			Details: map[string]string{"reason": "max_login_attempts"}},
		{Timestamp: now, Action: "Login", ActorID: "u1", EntityType: "User", EntityID: "u1", Success: true},
	}
	for _, e := range entries {
		if err := sink.Log(ctx, e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	got, err := sink.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Action != "Login" || !got[0].Success || got[0].ActorID != "u1" {
		t.Fatalf("unexpected newest entry: %+v", got[0])
	}
	if got[1].Severity != SeveritySecurity || got[1].Details["reason"] != "max_login_attempts" {
		t.Fatalf("unexpected security entry: %+v", got[1])
	}
	if !got[1].Timestamp.Equal(now) {
		t.Fatalf("timestamp mismatch: %v vs %v", got[1].Timestamp, now)
	}
}

func TestNewSQLiteSinkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	if _, err := NewSQLiteSink(ctx, db); err != nil {
		t.Fatalf("first NewSQLiteSink failed: %v", err)
	}
	if _, err := NewSQLiteSink(ctx, db); err != nil {
		t.Fatalf("second NewSQLiteSink failed: %v", err)
	}
}
