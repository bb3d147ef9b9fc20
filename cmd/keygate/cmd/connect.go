package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/keygate/channel"
	chanredis "github.com/jmcleod/keygate/channel/redis"
	"github.com/jmcleod/keygate/channel/relay"
	"github.com/jmcleod/keygate/client"
	"github.com/jmcleod/keygate/host"
	"github.com/jmcleod/keygate/keeper"
	"github.com/jmcleod/keygate/storage"
	"github.com/jmcleod/keygate/storage/enclave"
	"github.com/jmcleod/keygate/storage/postgres"
	redisstore "github.com/jmcleod/keygate/storage/redis"
)

// clientFlags are shared by every command that acts as a tab.
type clientFlags struct {
	apiURL        string
	apiKey        string
	origin        string
	dataDir       string
	storage       string
	redisAddr     string
	redisPassword string
	relayURL      string
	postgresDSN   string
}

var cf clientFlags

func addClientFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&cf.apiURL, "api-url", "http://localhost:8787", "Keygate server URL")
	f.StringVar(&cf.apiKey, "api-key", "", "Application API key sent as X-KG-Key")
	f.StringVar(&cf.origin, "origin", "", "Value of X-Keygate-Origin (default \"unknown\")")
	f.StringVar(&cf.dataDir, "data-dir", defaultDataDir(), "Directory holding the shared local storage")
	f.StringVar(&cf.storage, "storage", string(keeper.BackendLocalStorage), "Token storage backend (memory, localStorage, sessionStorage, secureStorage)")
	f.StringVar(&cf.redisAddr, "redis-addr", "", "Redis address for the channel and secureStorage")
	f.StringVar(&cf.redisPassword, "redis-password", "", "Redis password")
	f.StringVar(&cf.relayURL, "relay-url", "", "WebSocket relay URL for the channel (e.g. http://localhost:8787/channel)")
	f.StringVar(&cf.postgresDSN, "postgres-dsn", "", "PostgreSQL DSN for secureStorage (takes precedence over redis)")
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(dir, "keygate")
}

// tabEnv is what one CLI tab runs on.
type tabEnv struct {
	host    host.Host
	hooks   *host.UnloadHooks
	dialer  channel.Dialer
	secure  storage.Storage
	backend keeper.Backend
	closers []func()
}

// openTab builds the host, channel dialer and secure storage the flags
// describe. With flushOnUnload the host gets unload hooks, so the keeper
// writes the token once on exit instead of on every set.
func openTab(ctx context.Context, flushOnUnload bool) (*tabEnv, error) {
	backend, err := keeper.ParseBackend(cf.storage)
	if err != nil {
		return nil, err
	}
	h, err := host.Local(cf.dataDir)
	if err != nil {
		return nil, err
	}
	env := &tabEnv{host: h, backend: backend}
	if flushOnUnload {
		env.hooks = host.NewUnloadHooks()
		env.host.Unload = env.hooks
	}

	switch {
	case cf.redisAddr != "":
		store, rc, err := redisstore.Dial(ctx, cf.redisAddr, "", cf.redisPassword)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = rc.Close() })
		env.dialer = chanredis.Dialer{Client: rc}
		env.secure = store
	case cf.relayURL != "":
		env.dialer = relay.Dialer{URL: cf.relayURL}
	default:
		slog.Warn("no --relay-url or --redis-addr; this tab cannot see other tabs")
	}

	if backend == keeper.BackendSecureStorage && cf.postgresDSN != "" {
		pg, err := postgres.NewFromDSN(ctx, cf.postgresDSN)
		if err != nil {
			env.close()
			return nil, err
		}
		env.closers = append(env.closers, pg.Close)
		env.secure = pg
	}
	if backend == keeper.BackendSecureStorage && env.secure == nil {
		e := enclave.New()
		env.closers = append(env.closers, e.Close)
		env.secure = e
	}
	return env, nil
}

func (e *tabEnv) newClient(ctx context.Context) (*client.Client, error) {
	opts := []client.Option{client.WithLogger(slog.Default())}
	if e.dialer != nil {
		opts = append(opts, client.WithDialer(e.dialer))
	}
	c, err := client.New(ctx, client.Config{
		APIURL:         cf.apiURL,
		APIKey:         cf.apiKey,
		Origin:         cf.origin,
		StorageBackend: e.backend,
		SecureStorage:  e.secure,
		Host:           e.host,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	return c, nil
}

func (e *tabEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}
