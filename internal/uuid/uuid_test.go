package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	id1 := New()
	id2 := New()

	assert.Len(t, id1, 36)
	assert.NotEqual(t, id1, id2, "UUIDs should be unique")
	assert.True(t, Valid(id1))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-uuid"))
}
