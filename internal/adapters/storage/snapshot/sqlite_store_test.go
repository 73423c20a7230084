package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"verrou/internal/adapters/storage"
	"verrou/internal/domain/plan"
	"verrou/internal/domain/session"
)

func openTestStore(t *testing.T) (*SQLiteStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLiteStore(db, ""), db
}

func slotRevision(t *testing.T, db *sql.DB) string {
	t.Helper()
	var revision string
	if err := db.QueryRow(`SELECT revision FROM kv_slot WHERE key = ?`, DefaultKey).Scan(&revision); err != nil {
		t.Fatalf("read revision: %v", err)
	}
	return revision
}

func sampleSession() session.Session {
	s := session.Session{
		StudentName:        "Jean Dupont",
		SegmentDescription: "Mesure 6 (temps 4) -> Mesure 7",
		BaselineTempo:      "100",
		RuptureTempo:       "80",
		Plan:               plan.Generate(100, 80),
		PlanGenerated:      true,
		IsAdmin:            true,
	}
	s.Plan[0].Completed = true
	return s
}

// TestSQLiteStore_LoadEmpty verifies an empty slot reports ErrNotFound.
func TestSQLiteStore_LoadEmpty(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

// TestSQLiteStore_RoundTrip verifies a saved session loads back unchanged.
func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	want := sampleSession()

	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StudentName != want.StudentName || got.SegmentDescription != want.SegmentDescription ||
		got.BaselineTempo != want.BaselineTempo || got.RuptureTempo != want.RuptureTempo ||
		got.PlanGenerated != want.PlanGenerated || got.IsAdmin != want.IsAdmin {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if len(got.Plan) != len(want.Plan) {
		t.Fatalf("plan len = %d, want %d", len(got.Plan), len(want.Plan))
	}
	for i := range want.Plan {
		w, g := want.Plan[i], got.Plan[i]
		if g.ID != w.ID || g.Kind != w.Kind || g.Label != w.Label || g.Completed != w.Completed ||
			g.HasTempo() != w.HasTempo() || g.Tempo() != w.Tempo() {
			t.Errorf("step %d = %+v, want %+v", i, g, w)
		}
		if (g.DayIndex == nil) != (w.DayIndex == nil) {
			t.Errorf("step %d dayIndex presence differs", i)
		}
	}
}

// TestSQLiteStore_Overwrite verifies the slot keeps only the latest snapshot.
func TestSQLiteStore_Overwrite(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()

	store.Save(ctx, sampleSession())
	first := slotRevision(t, db)
	store.Save(ctx, session.Default())
	second := slotRevision(t, db)

	if first == "" || first == second {
		t.Errorf("revisions %q -> %q, want two distinct ids", first, second)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM kv_slot`).Scan(&n)
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PlanGenerated || got.StudentName != "" {
		t.Errorf("Load() = %+v, want defaults", got)
	}
}

// TestSQLiteStore_DigestMismatch verifies tampered content is reported corrupt.
func TestSQLiteStore_DigestMismatch(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()
	store.Save(ctx, sampleSession())

	if _, err := db.Exec(`UPDATE kv_slot SET value = '{"studentName":"Mallory"}'`); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load() error = %v, want ErrCorrupt", err)
	}
}

// TestSQLiteStore_MalformedJSON verifies unparseable content is reported corrupt.
func TestSQLiteStore_MalformedJSON(t *testing.T) {
	for _, raw := range []string{"{not json", "null", `"text"`, "[]", ""} {
		t.Run(raw, func(t *testing.T) {
			store, db := openTestStore(t)
			if _, err := db.Exec(`INSERT INTO kv_slot (key, value, digest, revision, updated_at) VALUES (?, ?, ?, 'r', 'now')`,
				DefaultKey, raw, Digest([]byte(raw))); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Load() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

// TestSQLiteStore_LegacyRowWithoutDigest verifies pre-digest rows are still read.
func TestSQLiteStore_LegacyRowWithoutDigest(t *testing.T) {
	store, db := openTestStore(t)
	db.Exec(`INSERT INTO kv_slot (key, value, updated_at) VALUES (?, ?, 'now')`,
		DefaultKey, `{"studentName":"Ana","plan":null}`)

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StudentName != "Ana" || got.Plan == nil {
		t.Errorf("Load() = %+v", got)
	}
}

// TestSQLiteStore_SeparateKeys verifies two slots don't collide.
func TestSQLiteStore_SeparateKeys(t *testing.T) {
	a, db := openTestStore(t)
	b := NewSQLiteStore(db, "other")
	ctx := context.Background()

	a.Save(ctx, sampleSession())
	if _, err := b.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("other slot Load() error = %v, want ErrNotFound", err)
	}
}

// TestDigest verifies the digest is stable and content-sensitive.
func TestDigest(t *testing.T) {
	if Digest([]byte("a")) != Digest([]byte("a")) {
		t.Error("digest not stable")
	}
	if Digest([]byte("a")) == Digest([]byte("b")) {
		t.Error("digest ignores content")
	}
	if len(Digest(nil)) != 64 {
		t.Errorf("digest length = %d, want 64", len(Digest(nil)))
	}
}
