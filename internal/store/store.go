// Package store provides the shared key-value store backing instance records
// and the claimed-port set. Two implementations exist: an in-process memory
// store for single-node deployments and tests, and a Postgres-backed store so
// multiple control-plane replicas can share one authoritative state.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is a small key-value abstraction with atomic single-key operations.
// All mutations must be atomic with respect to concurrent callers, including
// callers in other processes when the backing store is shared.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes the value for key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Update overwrites the value for key only if the key already exists,
	// returning ErrNotFound otherwise. The existence check and the write are
	// a single atomic operation, so an update can never re-insert a key a
	// concurrent caller just deleted.
	Update(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// List returns all key/value pairs whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// SetAdd adds member to the set at key and reports whether it was
	// actually added (false means it was already present). The add-if-absent
	// check and the insert are a single atomic operation.
	SetAdd(ctx context.Context, key, member string) (bool, error)
	// SetRemove removes member from the set at key. Removing an absent
	// member is a no-op.
	SetRemove(ctx context.Context, key, member string) error
	// SetMembers returns all members of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
