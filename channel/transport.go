package channel

import "context"

// Transport carries string messages between all participants of one named
// channel. Delivery is FIFO per sender; there is no acknowledgement.
type Transport interface {
	// Publish sends msg to every other participant.
	Publish(ctx context.Context, msg string) error
	// Receive blocks until a message arrives. It returns ErrClosed once the
	// transport has been closed.
	Receive(ctx context.Context) (string, error)
	Close() error
}

// Echoer is implemented by transports that deliver a sender's own messages
// back to it.
type Echoer interface {
	Echoes() bool
}

// Dialer opens the transport for a named channel.
type Dialer interface {
	Dial(ctx context.Context, name string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, name string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, name string) (Transport, error) {
	return f(ctx, name)
}
