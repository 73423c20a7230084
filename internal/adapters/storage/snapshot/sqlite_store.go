package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"verrou/internal/adapters/storage"
	domain "verrou/internal/domain/session"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on the kv_slot table.
type SQLiteStore struct {
	db  storage.SQLDB
	key string
	now func() time.Time
}

// NewSQLiteStore creates a store bound to one slot key (DefaultKey when empty).
func NewSQLiteStore(db storage.SQLDB, key string) *SQLiteStore {
	if key == "" {
		key = DefaultKey
	}
	return &SQLiteStore{db: db, key: key, now: time.Now}
}

// Load reads and decodes the snapshot.
// PRE: schema migrated
// POST: Returns ErrNotFound for an empty slot, ErrCorrupt (wrapped) when the digest
// doesn't match or the JSON doesn't decode, otherwise the stored session
func (s *SQLiteStore) Load(ctx context.Context) (domain.Session, error) {
	var value, digest, revision, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT value, digest, revision, updated_at FROM kv_slot WHERE key = ?`, s.key).
		Scan(&value, &digest, &revision, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load snapshot: %w", err)
	}

	// Rows written before digests existed have an empty digest and are trusted.
	if digest != "" && digest != Digest([]byte(value)) {
		return domain.Session{}, fmt.Errorf("%w: digest mismatch (revision %s)", ErrCorrupt, revision)
	}
	sess, err := Decode([]byte(value))
	if err != nil {
		return domain.Session{}, err
	}
	slog.Info("snapshot_loaded", "key", s.key, "revision", revision, "updated_at", updatedAt)
	return sess, nil
}

// Save encodes the session and overwrites the slot.
// PRE: schema migrated
// POST: slot holds the JSON snapshot, its digest and a fresh revision id
func (s *SQLiteStore) Save(ctx context.Context, value domain.Session) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	revision := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv_slot (key, value, digest, revision, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value=excluded.value, digest=excluded.digest,
		   revision=excluded.revision, updated_at=excluded.updated_at`,
		s.key, string(data), Digest(data), revision, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	slog.Debug("snapshot_saved", "key", s.key, "revision", revision, "bytes", len(data))
	return nil
}

// Decode parses a JSON snapshot. Anything but a JSON object is corrupt; a nil plan decodes as empty.
func Decode(data []byte) (domain.Session, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.Session{}, fmt.Errorf("%w: not a JSON object", ErrCorrupt)
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return sess.Clone(), nil
}

// Digest returns the hex BLAKE2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
