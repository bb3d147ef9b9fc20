package channel_test

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/keygate/channel"
	"github.com/jmcleod/keygate/channel/memory"
	"github.com/jmcleod/keygate/channel/redis"
)

const (
	testInterval = 40 * time.Millisecond
	waitFor      = 3 * time.Second
	tick         = 5 * time.Millisecond
)

var discard = slog.New(slog.DiscardHandler)

func open(t *testing.T, d channel.Dialer, id int64, opts ...channel.Option) *channel.Channel {
	t.Helper()
	opts = append([]channel.Option{
		channel.WithID(id),
		channel.WithHeartbeatInterval(testInterval),
		channel.WithLogger(discard),
	}, opts...)
	c, err := channel.Open(t.Context(), d, "test", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Leave(context.Background()) })
	return c
}

func TestOpenDefaults(t *testing.T) {
	bus := memory.NewBus()
	c, err := channel.Open(t.Context(), bus, "defaults", channel.WithLogger(discard))
	require.NoError(t, err)
	defer c.Leave(t.Context())

	assert.Equal(t, "defaults", c.Name())
	assert.Equal(t, 1500*time.Millisecond, c.LivenessWindow())
	assert.True(t, c.IsLeader(), "a lone node leads")
	assert.Equal(t, c.ID(), c.Leader())
	assert.Empty(t, c.Nodes())
	assert.Equal(t, 1, bus.Len("defaults"))
}

func TestOpenDialError(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := channel.Open(ctx, memory.NewBus(), "x", channel.WithLogger(discard))
	assert.Error(t, err)
}

func TestLeaderConvergence(t *testing.T) {
	bus := memory.NewBus()
	low := open(t, bus, 10)
	mid := open(t, bus, 20)
	high := open(t, bus, 30)

	require.Eventually(t, func() bool {
		return low.IsLeader() && !mid.IsLeader() && !high.IsLeader() &&
			mid.Leader() == 10 && high.Leader() == 10
	}, waitFor, tick)

	require.Eventually(t, func() bool { return len(high.Nodes()) == 2 }, waitFor, tick)
	nodes := high.Nodes()
	assert.Equal(t, int64(10), nodes[0].ID)
	assert.Equal(t, int64(20), nodes[1].ID)

	require.NoError(t, low.Leave(t.Context()))
	require.Eventually(t, func() bool {
		return mid.IsLeader() && high.Leader() == 20
	}, waitFor, tick)
}

func TestNewcomerLearnsLeaderBeforeTick(t *testing.T) {
	bus := memory.NewBus()
	// A long interval leaves the isnew reply as the only way to learn.
	first := open(t, bus, 1, channel.WithHeartbeatInterval(time.Hour))
	second := open(t, bus, 2, channel.WithHeartbeatInterval(time.Hour))

	require.Eventually(t, func() bool {
		return second.Leader() == 1
	}, waitFor, tick)
	assert.True(t, first.IsLeader())
}

func TestCrashedPeerIsEvicted(t *testing.T) {
	bus := memory.NewBus()
	var (
		mu      sync.Mutex
		crashed channel.Transport
	)
	crashing := channel.DialerFunc(func(ctx context.Context, name string) (channel.Transport, error) {
		tr, err := bus.Dial(ctx, name)
		mu.Lock()
		crashed = tr
		mu.Unlock()
		return tr, err
	})

	open(t, crashing, 1)
	high := open(t, bus, 2)
	require.Eventually(t, func() bool { return high.Leader() == 1 }, waitFor, tick)

	// Drop the transport without a left message.
	mu.Lock()
	require.NoError(t, crashed.Close())
	mu.Unlock()

	require.Eventually(t, high.IsLeader, waitFor, tick)
	assert.Empty(t, high.Nodes())
}

func TestLeaderChangeNotification(t *testing.T) {
	bus := memory.NewBus()
	high := open(t, bus, 50)

	var got atomic.Int64
	high.OnLeaderChange(func(leader int64) { got.Store(leader) })

	low := open(t, bus, 5)
	require.Eventually(t, func() bool { return got.Load() == 5 }, waitFor, tick)

	require.NoError(t, low.Leave(t.Context()))
	require.Eventually(t, func() bool { return got.Load() == 50 }, waitFor, tick)
}

func TestLogoutPropagates(t *testing.T) {
	bus := memory.NewBus()
	a := open(t, bus, 1)
	b := open(t, bus, 2)

	var aCount, bCount, bLogin atomic.Int32
	a.OnLogout(func() { aCount.Add(1) })
	b.OnLogout(func() { bCount.Add(1) })
	b.OnLogin(func() { bLogin.Add(1) })

	a.Logout()
	assert.Equal(t, int32(1), aCount.Load(), "own listener runs on a non-echoing transport")
	require.Eventually(t, func() bool { return bCount.Load() == 1 }, waitFor, tick)

	a.Login()
	require.Eventually(t, func() bool { return bLogin.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), bCount.Load())
}

func TestUnsubscribe(t *testing.T) {
	bus := memory.NewBus()
	a := open(t, bus, 1)
	b := open(t, bus, 2)

	var n atomic.Int32
	off := b.OnLogin(func() { n.Add(1) })
	a.Login()
	require.Eventually(t, func() bool { return n.Load() == 1 }, waitFor, tick)

	off()
	seen := make(chan struct{})
	b.OnMessage(func(msg string) {
		if msg == "after" {
			close(seen)
		}
	})
	a.Login()
	require.NoError(t, a.Post("after"))
	select {
	case <-seen:
	case <-time.After(waitFor):
		t.Fatal("message never arrived")
	}
	assert.Equal(t, int32(1), n.Load())
}

func TestApplicationMessages(t *testing.T) {
	bus := memory.NewBus()
	a := open(t, bus, 1)
	b := open(t, bus, 2)

	var (
		mu  sync.Mutex
		got []string
	)
	b.OnMessage(func(msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	var own atomic.Int32
	a.OnMessage(func(string) { own.Add(1) })

	require.False(t, a.Echoes())
	require.NoError(t, a.Post("one"))
	a.Logout()
	require.NoError(t, a.Post("two"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Zero(t, own.Load(), "the sender does not see its own posts without echo")
	for _, msg := range got {
		assert.False(t, strings.HasPrefix(msg, "alive:"))
	}
}

func TestPostReserved(t *testing.T) {
	c := open(t, memory.NewBus(), 1)
	for _, msg := range []string{channel.MessageLogin, channel.MessageLogout, "_x", "alive:1:2", "left:3:4"} {
		assert.ErrorIs(t, c.Post(msg), channel.ErrReservedMessage, msg)
	}
}

func TestLeave(t *testing.T) {
	bus := memory.NewBus()
	c, err := channel.Open(t.Context(), bus, "leave",
		channel.WithHeartbeatInterval(testInterval), channel.WithLogger(discard))
	require.NoError(t, err)

	require.NoError(t, c.Leave(t.Context()))
	require.NoError(t, c.Leave(t.Context()))
	assert.ErrorIs(t, c.Post("hello"), channel.ErrClosed)
	assert.Equal(t, 0, bus.Len("leave"))

	// Control messages after Leave are dropped.
	var n atomic.Int32
	c.OnLogout(func() { n.Add(1) })
	c.Logout()
	assert.Zero(t, n.Load())
}

func TestLeaveFromListener(t *testing.T) {
	bus := memory.NewBus()
	a := open(t, bus, 1)
	b := open(t, bus, 2)
	require.Eventually(t, func() bool { return len(a.Nodes()) == 1 }, waitFor, tick)

	left := make(chan error, 1)
	b.OnLogout(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		select {
		case left <- b.Leave(ctx):
		default:
		}
	})
	a.Logout()

	select {
	case err := <-left:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Leave called from a listener did not return")
	}
	require.Eventually(t, func() bool { return len(a.Nodes()) == 0 }, waitFor, tick)
	assert.ErrorIs(t, b.Post("hello"), channel.ErrClosed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Leave(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("second Leave blocked")
	}
}

func TestLeaveFromLeaderChange(t *testing.T) {
	bus := memory.NewBus()
	low := open(t, bus, 1)
	high := open(t, bus, 2)
	require.Eventually(t, func() bool { return high.Leader() == 1 }, waitFor, tick)

	left := make(chan error, 1)
	high.OnLeaderChange(func(int64) {
		select {
		case left <- high.Leave(context.Background()):
		default:
		}
	})
	require.NoError(t, low.Leave(t.Context()))

	select {
	case err := <-left:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Leave called from a leader change listener did not return")
	}
}

func TestMetrics(t *testing.T) {
	bus := memory.NewBus()
	reg := prometheus.NewRegistry()
	high := open(t, bus, 2, channel.WithMetrics(channel.NewMetrics(reg)))
	open(t, bus, 1)

	expected := `
# HELP keygate_channel_is_leader 1 when this node believes it is the leader.
# TYPE keygate_channel_is_leader gauge
keygate_channel_is_leader 0
# HELP keygate_channel_peers Number of live peers in the local view, excluding this node.
# TYPE keygate_channel_peers gauge
keygate_channel_peers 1
`
	require.Eventually(t, func() bool {
		return testutil.GatherAndCompare(reg, strings.NewReader(expected),
			"keygate_channel_is_leader", "keygate_channel_peers") == nil
	}, waitFor, tick)
	assert.False(t, high.IsLeader())

	count, err := testutil.GatherAndCount(reg, "keygate_channel_messages_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestRedisTransportEchoes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	d := redis.Dialer{Client: client}

	a := open(t, d, 1)
	b := open(t, d, 2)
	require.True(t, a.Echoes())

	var aCount, bCount atomic.Int32
	a.OnLogout(func() { aCount.Add(1) })
	b.OnLogout(func() { bCount.Add(1) })

	require.Eventually(t, func() bool { return b.Leader() == 1 && len(a.Nodes()) == 1 }, waitFor, tick)
	assert.Equal(t, int64(2), a.Nodes()[0].ID, "own heartbeats are ignored")

	a.Logout()
	require.Eventually(t, func() bool {
		return aCount.Load() == 1 && bCount.Load() == 1
	}, waitFor, tick)

	// The echo was the only local delivery.
	seen := make(chan struct{})
	a.OnMessage(func(msg string) {
		if msg == "barrier" {
			close(seen)
		}
	})
	require.NoError(t, a.Post("barrier"))
	select {
	case <-seen:
	case <-time.After(waitFor):
		t.Fatal("echo never arrived")
	}
	assert.Equal(t, int32(1), aCount.Load())
}
