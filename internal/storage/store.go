package storage

import (
	"context"
	"errors"
)

// Errors
var (
	// ErrNotFound indicates the key has no stored value.
	ErrNotFound = errors.New("key not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Store is the key-value persistence contract shared by all managers.
// Implementations must be safe for concurrent use. Absence or failure of
// the backing medium must never crash a consumer; callers treat every
// returned error as best-effort and continue with in-memory state.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys returns all stored keys.
	Keys(ctx context.Context) ([]string, error)

	// MultiRemove deletes all given keys in one operation.
	MultiRemove(ctx context.Context, keys []string) error

	// Close releases the backing medium.
	Close() error
}
