// Package client is the application-facing keygate client. It ties a
// session token keeper to the cross-tab coordination channel and stamps
// outgoing requests with the keygate headers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/jmcleod/keygate/channel"
	"github.com/jmcleod/keygate/channel/memory"
	"github.com/jmcleod/keygate/internal/uuid"
	"github.com/jmcleod/keygate/keeper"
	"github.com/jmcleod/keygate/storage"
	"github.com/jmcleod/keygate/token"
)

const (
	HeaderKeygate = "X-Keygate"
	HeaderOrigin  = "X-Keygate-Origin"
	HeaderAPIKey  = "X-KG-Key"

	// RefreshPath is appended to Config.APIURL by RefreshAccessToken.
	RefreshPath = "/api/v1/refresh"

	maxRefreshBody = 64 << 10
)

// Client is one tab's keygate client.
type Client struct {
	cfg         Config
	http        *http.Client
	dialer      channel.Dialer
	channelOpts []channel.Option
	keeperOpts  []keeper.Option
	log         *slog.Logger

	keeper  *keeper.Keeper
	channel *channel.Channel

	deviceMu sync.Mutex
	deviceID string

	closeOnce sync.Once
}

// New joins the coordination channel, builds the keeper and loads the
// session token.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, ErrMissingAPIURL
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Origin == "" {
		cfg.Origin = unknownOrigin
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = keeper.BackendMemory
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = DefaultChannelName
	}

	c := &Client{
		cfg:  cfg,
		http: http.DefaultClient,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = memory.NewBus()
	}

	chOpts := append([]channel.Option{channel.WithLogger(c.log)}, c.channelOpts...)
	ch, err := channel.Open(ctx, c.dialer, cfg.ChannelName, chOpts...)
	if err != nil {
		return nil, err
	}
	c.channel = ch

	kOpts := append([]keeper.Option{
		keeper.WithBackend(cfg.StorageBackend),
		keeper.WithSecureStorage(cfg.SecureStorage),
		keeper.WithHost(cfg.Host),
		keeper.WithChannel(ch),
		keeper.WithLogger(c.log),
	}, c.keeperOpts...)
	k, err := keeper.New(kOpts...)
	if err != nil {
		_ = ch.Leave(ctx)
		return nil, fmt.Errorf("creating keeper: %w", err)
	}
	c.keeper = k

	if err := k.Load(ctx); err != nil {
		k.Close()
		_ = ch.Leave(ctx)
		return nil, err
	}
	return c, nil
}

// Keeper returns the session token keeper.
func (c *Client) Keeper() *keeper.Keeper {
	return c.keeper
}

// Channel returns the coordination channel.
func (c *Client) Channel() *channel.Channel {
	return c.channel
}

// Do sends req with the keygate identification headers set.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(HeaderKeygate, "true")
	req.Header.Set(HeaderOrigin, c.cfg.Origin)
	req.Header.Set(HeaderAPIKey, c.cfg.APIKey)
	return c.http.Do(req)
}

// AuthedDo sends req as Do does, with the session token as bearer
// credential. It fails with ErrNoSession when no valid token is held.
func (c *Client) AuthedDo(req *http.Request) (*http.Response, error) {
	if c.keeper.SessionTokenStatus(req.Context()) != token.StatusValid {
		return nil, ErrNoSession
	}
	raw, ok := c.keeper.RawToken()
	if !ok {
		return nil, ErrNoSession
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+raw)
	return c.Do(req)
}

type refreshResponse struct {
	Token string `json:"token"`
}

// RefreshAccessToken asks the server for a new session token and stores
// it. When no valid session was held before, the other tabs are told that
// a session started.
func (c *Client) RefreshAccessToken(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+RefreshPath, nil)
	if err != nil {
		return fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("refreshing session token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("refreshing session token: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRefreshBody)).Decode(&body); err != nil {
		return fmt.Errorf("decoding refresh response: %w", err)
	}

	wasValid := c.keeper.SessionTokenStatus(ctx) == token.StatusValid
	if err := c.keeper.SetSessionToken(ctx, body.Token); err != nil {
		return err
	}
	if !wasValid && c.keeper.SessionTokenStatus(ctx) == token.StatusValid {
		c.channel.Login()
	}
	return nil
}

// Logout clears the session token here and in every other tab.
func (c *Client) Logout(ctx context.Context) error {
	return c.keeper.Logout(ctx)
}

// DeviceID returns a random id that is stable for the lifetime of the tab.
// It is kept in session storage when the host has one.
func (c *Client) DeviceID(ctx context.Context) (string, error) {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()
	if c.deviceID != "" {
		return c.deviceID, nil
	}

	ss := c.cfg.Host.SessionStorage
	if ss == nil {
		c.log.Warn("client.device_id.ephemeral", slog.String("reason", "no session storage"))
		c.deviceID = uuid.New()
		return c.deviceID, nil
	}

	id, err := ss.Get(ctx, DeviceIDKey)
	switch {
	case err == nil && uuid.Valid(id):
		c.deviceID = id
		return id, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("reading device id: %w", err)
	}

	id = uuid.New()
	if err := ss.Set(ctx, DeviceIDKey, id); err != nil {
		return "", fmt.Errorf("storing device id: %w", err)
	}
	c.deviceID = id
	return id, nil
}

// Close stops following other tabs and leaves the channel. The token stays
// wherever the backend keeps it.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.keeper.Close()
		err = c.channel.Leave(ctx)
	})
	return err
}
