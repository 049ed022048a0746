// Package store defines the shared signal store contract the broker runs
// against: a flat keyspace with per-key atomicity and ordered prefix listing.
//
// The store is an external collaborator. The broker only relies on
// last-write-wins per-key semantics; nothing here is transactional across
// keys, and the signaling protocol is designed to tolerate that.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the key.
//
// Absence is an expected condition for pollers, not a failure: callers treat
// it as "not yet available" and keep polling.
var ErrNotFound = errors.New("store: key not found")

// Entry is a single (key, value) pair returned by List.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a minimal key-value store with ordered prefix listing.
//
// Implementations must make each individual operation atomic with respect to
// concurrent callers. Operations across multiple keys carry no guarantees.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every entry whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
}
