package storage

import (
	"context"
	"testing"
	"time"

	"verrou/internal/adapters/http/perf"
)

func openTimedTestDB(t *testing.T) *TimedDB {
	t.Helper()
	db := openTestDB(t)
	if _, err := db.Exec("CREATE TABLE test (id TEXT PRIMARY KEY, val TEXT)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	return NewTimedDB(db, perf.NewCollector(100), 0)
}

// TestTimedDB_ExecContext verifies ExecContext records a query entry.
func TestTimedDB_ExecContext(t *testing.T) {
	tdb := openTimedTestDB(t)
	if _, err := tdb.ExecContext(context.Background(), "INSERT INTO test (id, val) VALUES (?, ?)", "1", "hello"); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	if tdb.collector.TotalRecorded() != 1 {
		t.Errorf("TotalRecorded = %d, want 1", tdb.collector.TotalRecorded())
	}
}

// TestTimedDB_QueryRowContext verifies reads go through and are recorded.
func TestTimedDB_QueryRowContext(t *testing.T) {
	tdb := openTimedTestDB(t)
	ctx := context.Background()
	tdb.ExecContext(ctx, "INSERT INTO test (id, val) VALUES (?, ?)", "1", "hello")

	var val string
	if err := tdb.QueryRowContext(ctx, "SELECT val FROM test WHERE id = ?", "1").Scan(&val); err != nil {
		t.Fatalf("QueryRowContext: %v", err)
	}
	if val != "hello" {
		t.Errorf("val = %q, want hello", val)
	}
	snap := tdb.collector.Snapshot(time.Now().Add(-time.Minute), 10)
	if len(snap.Queries) != 2 {
		t.Errorf("Queries = %+v, want ExecContext and QueryRowContext", snap.Queries)
	}
}

// TestTimedDB_NilCollector verifies the wrapper works without a collector.
func TestTimedDB_NilCollector(t *testing.T) {
	tdb := NewTimedDB(openTestDB(t), nil, 10)
	if err := tdb.PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext: %v", err)
	}
	if _, err := tdb.ExecContext(context.Background(), "CREATE TABLE x (id TEXT)"); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	if tdb.threshold != 10 {
		t.Errorf("threshold = %v, want 10", tdb.threshold)
	}
}

// TestNewTimedDB_DefaultThreshold verifies the slow-query default.
func TestNewTimedDB_DefaultThreshold(t *testing.T) {
	if got := NewTimedDB(openTestDB(t), nil, -1).threshold; got != DefaultSlowQueryMs {
		t.Errorf("threshold = %v, want %d", got, DefaultSlowQueryMs)
	}
}
