package snapshot

import (
	"context"
	"errors"

	domain "verrou/internal/domain/session"
)

// DefaultKey is the single slot the whole session lives under.
const DefaultKey = "verrou-pro-state"

var (
	// ErrNotFound means nothing has been saved yet.
	ErrNotFound = errors.New("no saved snapshot")
	// ErrCorrupt means the slot holds something that can't be trusted or parsed.
	ErrCorrupt = errors.New("saved snapshot is corrupt")
)

// Store persists the Session snapshot in one durable slot.
type Store interface {
	Load(ctx context.Context) (domain.Session, error)
	Save(ctx context.Context, value domain.Session) error
}
