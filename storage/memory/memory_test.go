package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/keygate/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, New())
}

func TestMemoryStoreIsolation(t *testing.T) {
	a, b := New(), New()
	require.NoError(t, a.Set(t.Context(), "k", "v"))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len(), "separate stores must not share values")
}
