package keeper

import (
	"log/slog"
	"time"

	"github.com/jmcleod/keygate/host"
	"github.com/jmcleod/keygate/storage"
)

// DefaultKey is the storage key the token is persisted under.
const DefaultKey = "dG9rZW4"

// Broadcaster is the part of a coordination channel a Keeper uses to
// follow logouts from other tabs. *channel.Channel implements it.
type Broadcaster interface {
	OnLogout(fn func()) func()
	Logout()
}

// echoer is implemented by broadcasters that deliver a sender's own logout
// back to its OnLogout listeners.
type echoer interface {
	Echoes() bool
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithBackend selects the storage backend. Default: BackendMemory.
func WithBackend(b Backend) Option {
	return func(k *Keeper) {
		k.backend = b
	}
}

// WithSecureStorage supplies the store used by BackendSecureStorage.
func WithSecureStorage(s storage.Storage) Option {
	return func(k *Keeper) {
		k.secure = s
	}
}

// WithHost sets the host capabilities. Default: host.Headless().
func WithHost(h host.Host) Option {
	return func(k *Keeper) {
		k.host = h
	}
}

// WithChannel makes the Keeper clear its token when another tab logs out,
// and broadcast on Logout.
func WithChannel(b Broadcaster) Option {
	return func(k *Keeper) {
		k.channel = b
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(k *Keeper) {
		if log != nil {
			k.log = log
		}
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) {
		if now != nil {
			k.now = now
		}
	}
}

// WithKey sets the storage key. Default: DefaultKey.
func WithKey(key string) Option {
	return func(k *Keeper) {
		if key != "" {
			k.key = key
		}
	}
}
