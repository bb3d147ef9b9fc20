package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatHeartbeat(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "alive:42:1700000000123", formatHeartbeat(kindAlive, 42, at))
	assert.Equal(t, "isnew:7:1700000000123", formatHeartbeat(kindNew, 7, at))
	assert.Equal(t, "left:9:1700000000123", formatHeartbeat(kindLeft, 9, at))
}

func TestParseHeartbeat(t *testing.T) {
	hb, ok, err := parseHeartbeat("isnew:12345:1700000000000")
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, kindNew, hb.kind)
	assert.Equal(t, int64(12345), hb.id)
	assert.Equal(t, int64(1700000000000), hb.at.UnixMilli())

	for _, msg := range []string{"hello", "news:1:2", "", "_logout"} {
		_, ok, err := parseHeartbeat(msg)
		assert.False(t, ok, msg)
		assert.NoError(t, err, msg)
	}

	for _, msg := range []string{"alive:1", "alive:x:1", "left:1:y", "isnew::"} {
		_, ok, err := parseHeartbeat(msg)
		assert.True(t, ok, msg)
		assert.Error(t, err, msg)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	at := time.UnixMilli(time.Now().UnixMilli())
	hb, ok, err := parseHeartbeat(formatHeartbeat(kindLeft, -3, at))
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, heartbeat{kind: kindLeft, id: -3, at: at}, hb)
}

func TestIsReserved(t *testing.T) {
	reserved := []string{MessageLogin, MessageLogout, "_anything", "alive:1:2", "isnew:", "left:x"}
	for _, msg := range reserved {
		assert.True(t, IsReserved(msg), msg)
	}
	open := []string{"hello", "refresh:now", "login", "alive", ""}
	for _, msg := range open {
		assert.False(t, IsReserved(msg), msg)
	}
}

func TestMessageKind(t *testing.T) {
	assert.Equal(t, "login", messageKind(MessageLogin))
	assert.Equal(t, "logout", messageKind(MessageLogout))
	assert.Equal(t, "alive", messageKind("alive:1:2"))
	assert.Equal(t, "reserved", messageKind("_other"))
	assert.Equal(t, "reserved", messageKind("alive:bad"))
	assert.Equal(t, "message", messageKind("hello"))
}

func TestListeners(t *testing.T) {
	var l listeners[func() int]
	l.add(func() int { return 1 })
	remove := l.add(func() int { return 2 })
	l.add(func() int { return 3 })

	var got []int
	for _, fn := range l.snapshot() {
		got = append(got, fn())
	}
	assert.Equal(t, []int{1, 2, 3}, got)

	remove()
	remove()
	got = got[:0]
	for _, fn := range l.snapshot() {
		got = append(got, fn())
	}
	assert.Equal(t, []int{1, 3}, got)
}
