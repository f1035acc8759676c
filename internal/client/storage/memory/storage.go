// Package memory provides an in-process storage.Store.
// Nothing survives the process; used by tests and ephemeral sessions.
package memory

import (
	"context"
	"sync"

	"github.com/iudanet/offsync/internal/client/storage"
)

// Storage is a goroutine-safe in-memory key-value store.
type Storage struct {
	values map[string][]byte
	mu     sync.RWMutex
}

var _ storage.Store = (*Storage)(nil)

// New creates an empty in-memory store.
func New() *Storage {
	return &Storage{values: make(map[string][]byte)}
}

func (s *Storage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *Storage) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
