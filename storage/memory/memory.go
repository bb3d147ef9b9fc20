// Package memory provides a thread-safe in-memory storage.Storage.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/keygate/storage"
)

// Store is a thread-safe in-memory implementation of storage.Storage.
// Values live as long as the Store does; a host hands one Store to every
// keeper of a tab, which makes it the per-tab (sessionStorage) backend.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ storage.Storage = (*Store)(nil)

// New creates a new empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of keys held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
