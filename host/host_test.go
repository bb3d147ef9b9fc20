package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadless(t *testing.T) {
	h := Headless()
	assert.Nil(t, h.LocalStorage)
	assert.Nil(t, h.SessionStorage)
	assert.Nil(t, h.Unload)
}

func TestLocal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	h, err := Local(dir)
	require.NoError(t, err)
	require.NotNil(t, h.LocalStorage)
	require.NotNil(t, h.SessionStorage)
	assert.Nil(t, h.Unload)

	_, err = os.Stat(filepath.Join(dir, LocalStorageFile))
	require.NoError(t, err)

	// A second host over the same directory sees local but not session values.
	other, err := Local(dir)
	require.NoError(t, err)
	require.NoError(t, h.LocalStorage.Set(t.Context(), "k", "shared"))
	require.NoError(t, h.SessionStorage.Set(t.Context(), "k", "private"))

	got, err := other.LocalStorage.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "shared", got)
	_, err = other.SessionStorage.Get(t.Context(), "k")
	assert.Error(t, err)
}

func TestUnloadHooks(t *testing.T) {
	u := NewUnloadHooks()
	var order []int
	u.OnUnload(func() { order = append(order, 1) })
	u.OnUnload(func() { order = append(order, 2) })

	u.Unload()
	u.Unload()
	assert.Equal(t, []int{1, 2}, order)

	u.OnUnload(func() { order = append(order, 3) })
	u.Unload()
	assert.Equal(t, []int{1, 2}, order, "hooks added after unload must not run")
}

func TestUnloadHooksNotifyOnContext(t *testing.T) {
	u := NewUnloadHooks()
	fired := make(chan struct{})
	u.OnUnload(func() { close(fired) })

	ctx, cancel := context.WithCancel(t.Context())
	done := u.NotifyOnSignal(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unload did not run after context cancellation")
	}
	select {
	case <-fired:
	default:
		t.Fatal("hook did not fire")
	}
}
