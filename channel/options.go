package channel

import (
	"log/slog"
	"time"
)

const (
	// DefaultHeartbeatInterval is how often a node announces itself.
	DefaultHeartbeatInterval = time.Second

	defaultQueueSize      = 64
	defaultPublishTimeout = 5 * time.Second
)

// Option configures a Channel.
type Option func(*Channel)

// WithID fixes the node id instead of drawing a random one.
func WithID(id int64) Option {
	return func(c *Channel) {
		c.id = id
		c.idSet = true
	}
}

// WithHeartbeatInterval sets the heartbeat period. The liveness window is
// one and a half intervals.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Channel) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics records the channel's view into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

// WithQueueSize bounds the outbound queue. Default: 64.
func WithQueueSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithClock replaces time.Now for heartbeat timestamps and eviction.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}
