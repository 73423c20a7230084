package storage

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// getColumns returns the column names of a table in declaration order.
func getColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		t.Fatalf("pragma_table_info: %v", err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		cols = append(cols, name)
	}
	return cols
}

// TestMigrateDB_FreshDatabase verifies every migration applies to an empty database.
func TestMigrateDB_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateDB(db); err != nil {
		t.Fatalf("MigrateDB: %v", err)
	}

	v, err := CurrentSchemaVersion(db)
	if err != nil {
		t.Fatalf("CurrentSchemaVersion: %v", err)
	}
	if v != LatestSchemaVersion() {
		t.Errorf("version = %d, want %d", v, LatestSchemaVersion())
	}

	want := []string{"key", "value", "updated_at", "digest", "revision"}
	got := getColumns(t, db, "kv_slot")
	if len(got) != len(want) {
		t.Fatalf("kv_slot columns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %s, want %s", i, got[i], want[i])
		}
	}
}

// TestMigrateDB_Idempotent verifies running migrations twice is a no-op.
func TestMigrateDB_Idempotent(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateDB(db); err != nil {
		t.Fatalf("first MigrateDB: %v", err)
	}
	if err := MigrateDB(db); err != nil {
		t.Fatalf("second MigrateDB: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", n, len(migrations))
	}
}

// TestMigrateDB_UpgradesV1 verifies a version-1 database keeps its row and gains new columns.
func TestMigrateDB_UpgradesV1(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(migrations[0].sql); err != nil {
		t.Fatal(err)
	}
	db.Exec(`INSERT INTO schema_version (version, name) VALUES (1, 'kv_slot')`)
	db.Exec(`INSERT INTO kv_slot (key, value, updated_at) VALUES ('k', '{}', '2026-01-01T00:00:00Z')`)

	if err := MigrateDB(db); err != nil {
		t.Fatalf("MigrateDB: %v", err)
	}
	var value, digest string
	if err := db.QueryRow(`SELECT value, digest FROM kv_slot WHERE key = 'k'`).Scan(&value, &digest); err != nil {
		t.Fatalf("select: %v", err)
	}
	if value != "{}" || digest != "" {
		t.Errorf("row = %q/%q, want {} with empty digest", value, digest)
	}
}
