// Package bbolt provides a BBolt-backed storage.Storage.
package bbolt

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/keygate/storage"
)

// DefaultBucket holds every key written through a Store.
const DefaultBucket = "keygate"

const defaultLockTimeout = time.Second

// Store implements storage.Storage backed by a BBolt database.
//
// A Store created with NewFromFile opens the database for each operation and
// closes it afterwards, so several processes can share one file the way tabs
// of one origin share localStorage. BBolt's file lock serialises them.
type Store struct {
	db      *bbolt.DB
	path    string
	options bbolt.Options
	bucket  []byte
}

var _ storage.Storage = (*Store)(nil)

// New returns a Store backed by an already open database. The caller keeps
// ownership of db unless it calls Close.
func New(db *bbolt.DB) *Store {
	return &Store{db: db, bucket: []byte(DefaultBucket)}
}

// NewFromFile returns a Store that opens the database at path per operation.
// The file and bucket are created if absent. options may be nil.
func NewFromFile(path string, options *bbolt.Options) (*Store, error) {
	s := &Store{path: path, bucket: []byte(DefaultBucket)}
	if options != nil {
		s.options = *options
	}
	if s.options.Timeout == 0 {
		s.options.Timeout = defaultLockTimeout
	}
	err := s.update(context.Background(), func(*bbolt.Bucket) error { return nil })
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file path, or "" for a Store built with New.
func (s *Store) Path() string {
	return s.path
}

// Close closes a database handed to New. It is a no-op for file stores.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withDB(ctx context.Context, readOnly bool, fn func(*bbolt.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db != nil {
		return fn(s.db)
	}
	opts := s.options
	opts.ReadOnly = readOnly
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < opts.Timeout {
			opts.Timeout = max(d, time.Millisecond)
		}
	}
	db, err := bbolt.Open(s.path, 0o600, &opts)
	if err != nil {
		return fmt.Errorf("opening bbolt db: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func (s *Store) update(ctx context.Context, fn func(*bbolt.Bucket) error) error {
	return s.withDB(ctx, false, func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(s.bucket)
			if err != nil {
				return err
			}
			return fn(b)
		})
	})
}

func (s *Store) view(ctx context.Context, fn func(*bbolt.Bucket) error) error {
	// A read-only open cannot recreate a file removed underneath us.
	_, statErr := os.Stat(s.path)
	return s.withDB(ctx, statErr == nil, func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			return fn(tx.Bucket(s.bucket))
		})
	})
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.view(ctx, func(b *bbolt.Bucket) error {
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.update(ctx, func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.update(ctx, func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}
