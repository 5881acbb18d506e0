// Package cache implements the two-tier cache store: a bounded in-memory
// LRU tier backed by a durable Redis tier. Entries expire lazily; expired
// entries remain readable through stale reads until superseded, invalidated,
// or dropped by the durable tier's retention window.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key has no live entry
	ErrNotFound = errors.New("cache: key not found")

	// ErrSerialization is returned when a value cannot be encoded or decoded
	ErrSerialization = errors.New("cache: serialization failed")

	// ErrDurableUnavailable is returned by the durable tier when Redis is unreachable
	ErrDurableUnavailable = errors.New("cache: durable tier unavailable")
)

// Entry is a stored cache record. It is owned by the store and never leaves
// the package; callers see only the payload.
type Entry struct {
	Payload    json.RawMessage `json:"payload"`
	InsertedAt time.Time       `json:"inserted_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at the given time.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Tier is a single storage layer. Tiers store entries verbatim; expiry and
// promotion policy live in the Store.
type Tier interface {
	// Get retrieves an entry, expired or not. Returns ErrNotFound on miss.
	Get(ctx context.Context, key string) (Entry, error)

	// Set stores an entry, replacing any prior entry for the key.
	Set(ctx context.Context, key string, entry Entry) error

	// Delete removes an entry. Absent keys are not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all entries whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Close releases tier resources.
	Close() error
}
