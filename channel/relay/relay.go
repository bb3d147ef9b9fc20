// Package relay runs a channel over WebSockets: a hub Server fans every
// message out to the other connections of the same channel name, and Dialer
// connects a channel.Channel to it.
//
// The relay stands in for the browser's same-origin BroadcastChannel when
// tabs are separate processes without a shared broker.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/jmcleod/keygate/channel"
)

// Subprotocol is negotiated on every relay connection.
const Subprotocol = "keygate.channel.v1"

// Dialer connects to a relay Server.
type Dialer struct {
	// URL of the relay endpoint, ws://, wss://, http:// or https://.
	URL        string
	HTTPClient *http.Client
	Header     http.Header
}

var _ channel.Dialer = Dialer{}

func (d Dialer) Dial(ctx context.Context, name string) (channel.Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}
	q := u.Query()
	q.Set("channel", name)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   d.Header,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	if sp := conn.Subprotocol(); sp != Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("relay negotiated subprotocol %q, want %q", sp, Subprotocol)
	}
	conn.SetReadLimit(maxMessageBytes)
	return &transport{conn: conn}, nil
}

type transport struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

func (t *transport) Publish(ctx context.Context, msg string) error {
	if t.closed.Load() {
		return channel.ErrClosed
	}
	return t.conn.Write(ctx, websocket.MessageText, []byte(msg))
}

func (t *transport) Receive(ctx context.Context) (string, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			if t.closed.Load() || websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) {
				return "", channel.ErrClosed
			}
			return "", err
		}
		if typ != websocket.MessageText {
			continue
		}
		return string(data), nil
	}
}

func (t *transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "left")
	if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
