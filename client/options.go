package client

import (
	"log/slog"
	"net/http"

	"github.com/jmcleod/keygate/channel"
	"github.com/jmcleod/keygate/host"
	"github.com/jmcleod/keygate/keeper"
	"github.com/jmcleod/keygate/storage"
)

const (
	// DefaultChannelName is the coordination channel every client joins.
	DefaultChannelName = "__keygate__"
	// DeviceIDKey is the session storage key of the device id.
	DeviceIDKey = "kg-device-id"

	unknownOrigin = "unknown"
)

// Config identifies the application to the keygate server and chooses where
// the session token lives.
type Config struct {
	Domain string
	APIKey string
	APIURL string
	// Origin is sent as X-Keygate-Origin. Default: "unknown".
	Origin string

	// StorageBackend defaults to keeper.BackendMemory.
	StorageBackend keeper.Backend
	// SecureStorage backs keeper.BackendSecureStorage.
	SecureStorage storage.Storage
	// Host is the tab's capabilities. The zero value is host.Headless().
	Host host.Host

	// ChannelName defaults to DefaultChannelName.
	ChannelName string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Default: http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithDialer sets how the coordination channel is reached. Default: a bus
// private to this client, which only makes sense for a single tab.
func WithDialer(d channel.Dialer) Option {
	return func(cl *Client) {
		cl.dialer = d
	}
}

// WithChannelOptions passes options through to channel.Open.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(cl *Client) {
		cl.channelOpts = append(cl.channelOpts, opts...)
	}
}

// WithKeeperOptions passes options through to keeper.New.
func WithKeeperOptions(opts ...keeper.Option) Option {
	return func(cl *Client) {
		cl.keeperOpts = append(cl.keeperOpts, opts...)
	}
}

// WithLogger sets the logger for the client, its keeper and its channel.
// Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(cl *Client) {
		if log != nil {
			cl.log = log
		}
	}
}
