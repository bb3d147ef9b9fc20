package channel

import "errors"

var (
	// ErrClosed is returned by transports after Close and by a channel after Leave.
	ErrClosed = errors.New("channel closed")
	// ErrReservedMessage is returned by Post for protocol or control messages.
	ErrReservedMessage = errors.New("reserved channel message")
)
