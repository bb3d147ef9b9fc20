// Package redis provides a channel.Dialer over Redis Pub/Sub, so tabs in
// different processes or on different machines can share a channel.
//
// Redis delivers a publisher's messages to its own subscription, so these
// transports report Echoes() == true.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/keygate/channel"
)

// DefaultPrefix namespaces channel topics.
const DefaultPrefix = "keygate:channel:"

// Dialer subscribes to one Redis topic per channel name.
type Dialer struct {
	Client redis.UniversalClient
	Prefix string
}

var _ channel.Dialer = Dialer{}

func (d Dialer) Dial(ctx context.Context, name string) (channel.Transport, error) {
	prefix := d.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	topic := prefix + name
	ps := d.Client.Subscribe(ctx, topic)
	// Wait for the subscription to be confirmed so nothing published
	// after Dial returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return &transport{client: d.Client, pubsub: ps, topic: topic}, nil
}

type transport struct {
	client redis.UniversalClient
	pubsub *redis.PubSub
	topic  string
	closed atomic.Bool
}

func (t *transport) Publish(ctx context.Context, msg string) error {
	if t.closed.Load() {
		return channel.ErrClosed
	}
	return t.client.Publish(ctx, t.topic, msg).Err()
}

func (t *transport) Receive(ctx context.Context) (string, error) {
	for {
		m, err := t.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if t.closed.Load() || errors.Is(err, redis.ErrClosed) {
				return "", channel.ErrClosed
			}
			return "", err
		}
		if m.Channel != t.topic {
			continue
		}
		return m.Payload, nil
	}
}

func (t *transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.pubsub.Close()
}

func (t *transport) Echoes() bool {
	return true
}
