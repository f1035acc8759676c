package storage

import "context"

// Logical keys of the persistent store.
const (
	KeyActions = "offline_actions" // сериализованный массив Action
	KeyData    = "offline_data"    // сериализованный Snapshot
	KeySession = "auth_session"    // access token текущей сессии
)

//go:generate moq -out store_mock.go . Store

// Store is the durable key-value store the offline subsystem persists into.
// This is the lowest storage layer: values are opaque bytes and
// implementations do not interpret them.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if nothing is stored
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}
