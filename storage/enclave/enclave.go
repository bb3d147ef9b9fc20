// Package enclave provides a storage.Storage that keeps values sealed in
// memguard enclaves. Values are encrypted while at rest in memory and only
// decrypted into a locked buffer for the duration of a Get.
//
// It is the hardened secureStorage backend for hosts that must not keep a
// bearer token in plain process memory or on disk.
package enclave

import (
	"context"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/keygate/storage"
)

// Store is a thread-safe memguard-backed implementation of storage.Storage.
type Store struct {
	mu   sync.Mutex
	data map[string]*memguard.Enclave
}

var _ storage.Storage = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]*memguard.Enclave)}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	e, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return "", storage.ErrNotFound
	}
	// memguard refuses to seal empty buffers.
	if e == nil {
		return "", nil
	}
	buf, err := e.Open()
	if err != nil {
		return "", fmt.Errorf("opening enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var e *memguard.Enclave
	if value != "" {
		// NewEnclave wipes its input; hand it a private copy.
		e = memguard.NewEnclave([]byte(value))
	}
	s.mu.Lock()
	s.data[key] = e
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

// Close drops every sealed value.
func (s *Store) Close() {
	s.mu.Lock()
	clear(s.data)
	s.mu.Unlock()
}
