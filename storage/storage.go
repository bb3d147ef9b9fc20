// Package storage defines the key/value capability a session token is
// persisted through, and the errors every backend reports.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("not found")

// Storage is a string key/value store.
//
// Backends may be synchronous (an in-process map) or asynchronous (a file
// database or a network store); either way the call returns once the
// operation has settled. Remove of an absent key is not an error.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
