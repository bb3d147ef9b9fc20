// Package memory provides an in-process channel.Dialer. Every transport
// dialed from one Bus under the same name shares a channel, and like a
// browser BroadcastChannel a sender never receives its own messages.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/keygate/channel"
)

const inboxSize = 256

// Bus connects transports dialed from it.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[*endpoint]struct{}
}

var _ channel.Dialer = (*Bus)(nil)

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{channels: make(map[string]map[*endpoint]struct{})}
}

// Dial joins the named channel.
func (b *Bus) Dial(ctx context.Context, name string) (channel.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ep := &endpoint{
		bus:   b,
		name:  name,
		inbox: make(chan string, inboxSize),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	if b.channels[name] == nil {
		b.channels[name] = make(map[*endpoint]struct{})
	}
	b.channels[name][ep] = struct{}{}
	b.mu.Unlock()
	return ep, nil
}

// Len returns the number of open transports on the named channel.
func (b *Bus) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[name])
}

func (b *Bus) peers(name string, self *endpoint) []*endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*endpoint, 0, len(b.channels[name]))
	for ep := range b.channels[name] {
		if ep != self {
			out = append(out, ep)
		}
	}
	return out
}

func (b *Bus) remove(ep *endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels[ep.name], ep)
	if len(b.channels[ep.name]) == 0 {
		delete(b.channels, ep.name)
	}
}

type endpoint struct {
	bus   *Bus
	name  string
	inbox chan string

	// inbox is never closed; done signals shutdown so concurrent
	// publishers cannot panic.
	done      chan struct{}
	closeOnce sync.Once
}

func (e *endpoint) Publish(ctx context.Context, msg string) error {
	select {
	case <-e.done:
		return channel.ErrClosed
	default:
	}
	for _, p := range e.bus.peers(e.name, e) {
		select {
		case p.inbox <- msg:
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *endpoint) Receive(ctx context.Context) (string, error) {
	select {
	case msg := <-e.inbox:
		return msg, nil
	case <-e.done:
		return "", channel.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.bus.remove(e)
		close(e.done)
	})
	return nil
}
