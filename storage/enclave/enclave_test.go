package enclave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/keygate/storage"
	"github.com/jmcleod/keygate/storage/storagetest"
)

func TestEnclaveStore(t *testing.T) {
	s := New()
	t.Cleanup(s.Close)
	storagetest.Run(t, s)
}

func TestEnclaveStoreEmptyValue(t *testing.T) {
	s := New()
	require.NoError(t, s.Set(t.Context(), "k", ""))
	got, err := s.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestEnclaveStoreClose(t *testing.T) {
	s := New()
	require.NoError(t, s.Set(t.Context(), "k", "secret"))
	s.Close()
	_, err := s.Get(t.Context(), "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
