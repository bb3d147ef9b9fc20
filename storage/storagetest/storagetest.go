// Package storagetest provides the behavioural suite every storage.Storage
// implementation is expected to pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/keygate/storage"
)

// Run exercises s. The store should be empty on entry.
func Run(t *testing.T, s storage.Storage) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(t.Context(), "no-such-key")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, s.Set(t.Context(), "k1", "v1"))
		got, err := s.Get(t.Context(), "k1")
		require.NoError(t, err)
		assert.Equal(t, "v1", got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(t.Context(), "k-ow", "first"))
		require.NoError(t, s.Set(t.Context(), "k-ow", "second"))
		got, err := s.Get(t.Context(), "k-ow")
		require.NoError(t, err)
		assert.Equal(t, "second", got)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, s.Set(t.Context(), "k-del", "v"))
		require.NoError(t, s.Set(t.Context(), "k-keep", "v"))
		require.NoError(t, s.Remove(t.Context(), "k-del"))

		_, err := s.Get(t.Context(), "k-del")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		got, err := s.Get(t.Context(), "k-keep")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("RemoveMissing", func(t *testing.T) {
		assert.NoError(t, s.Remove(t.Context(), "never-existed"))
		assert.NoError(t, s.Remove(t.Context(), "never-existed"))
	})

	t.Run("TokenShapedValue", func(t *testing.T) {
		v := "eyJhbGciOiJFZERTQSIsInR5cCI6IktHU1QifQ.eyJ1aWQiOiJ1In0.c2ln"
		require.NoError(t, s.Set(t.Context(), "dG9rZW4", v))
		got, err := s.Get(t.Context(), "dG9rZW4")
		require.NoError(t, err)
		assert.Equal(t, v, got)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		assert.Error(t, s.Set(ctx, "k-cancel", "v"))
	})
}
