package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/keygate/host"
	"github.com/jmcleod/keygate/storage"
	"github.com/jmcleod/keygate/token"
)

const (
	flushTimeout        = 5 * time.Second
	remoteLogoutTimeout = 5 * time.Second
)

// State is the lifecycle position of a Keeper.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateEmpty
	StateHydrated
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateEmpty:
		return "empty"
	case StateHydrated:
		return "hydrated"
	default:
		return "unknown"
	}
}

// Session is the token a Keeper holds, decoded.
type Session struct {
	Claims token.Claims
	// Hash changes whenever the raw token does.
	Hash string
	Raw  string
}

// Keeper owns the session token of one tab.
type Keeper struct {
	backend Backend
	key     string
	host    host.Host
	secure  storage.Storage
	channel Broadcaster
	log     *slog.Logger
	now     func() time.Time

	// store is nil for BackendMemory.
	store storage.Storage

	// writeMu serializes mutations so memory and storage change together.
	writeMu sync.Mutex

	mu        sync.RWMutex
	state     State
	raw       string
	hookAdded bool

	// ownLogouts counts Logout broadcasts an echoing channel has yet to
	// deliver back to this Keeper.
	ownLogouts int

	unsubscribe func()
	closeOnce   sync.Once
}

// New selects the storage backend and returns an unloaded Keeper. It fails
// when the backend is unknown or the host cannot provide it.
func New(opts ...Option) (*Keeper, error) {
	k := &Keeper{
		backend: BackendMemory,
		key:     DefaultKey,
		host:    host.Headless(),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}

	switch k.backend {
	case BackendMemory:
	case BackendLocalStorage:
		if k.host.LocalStorage == nil {
			return nil, fmt.Errorf("%s: %w", k.backend, ErrBackendUnavailable)
		}
		k.store = k.host.LocalStorage
	case BackendSessionStorage:
		if k.host.SessionStorage == nil {
			return nil, fmt.Errorf("%s: %w", k.backend, ErrBackendUnavailable)
		}
		k.store = k.host.SessionStorage
	case BackendSecureStorage:
		if k.secure == nil {
			return nil, ErrSecureStorageRequired
		}
		k.store = k.secure
	default:
		return nil, fmt.Errorf("%q: %w", k.backend, ErrUnknownBackend)
	}

	k.log = k.log.With(slog.String("backend", string(k.backend)))
	if k.channel != nil {
		k.unsubscribe = k.channel.OnLogout(k.remoteLogout)
	}
	return k, nil
}

// Backend returns the selected storage backend.
func (k *Keeper) Backend() Backend {
	return k.backend
}

// State returns the current lifecycle state.
func (k *Keeper) State() State {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Load hydrates the in-memory token from storage. When the host has an
// unload hook, Load also registers Flush on it. A failed Load leaves the
// Keeper unloaded so it can be retried.
func (k *Keeper) Load(ctx context.Context) error {
	k.writeMu.Lock()
	defer k.writeMu.Unlock()

	k.mu.Lock()
	k.state = StateLoading
	addHook := k.host.Unload != nil && !k.hookAdded
	k.hookAdded = k.hookAdded || addHook
	k.mu.Unlock()

	if addHook {
		k.host.Unload.OnUnload(k.flushOnUnload)
	}

	if k.store == nil {
		k.setLoaded("")
		return nil
	}

	raw, err := k.store.Get(ctx, k.key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		raw = ""
	case err != nil:
		k.mu.Lock()
		k.state = StateUnloaded
		k.mu.Unlock()
		return fmt.Errorf("loading session token: %w", err)
	}
	k.setLoaded(raw)
	k.log.Debug("keeper.load", slog.Bool("found", raw != ""))
	return nil
}

func (k *Keeper) setLoaded(raw string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.raw = raw
	if raw == "" {
		k.state = StateEmpty
	} else {
		k.state = StateHydrated
	}
}

// RawToken returns the held token as issued.
func (k *Keeper) RawToken() (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.raw, k.raw != ""
}

// GetSessionToken returns the decoded token, or nil when none is held or
// the held one does not parse.
func (k *Keeper) GetSessionToken() *Session {
	raw, ok := k.RawToken()
	if !ok {
		return nil
	}
	claims, err := token.Parse(raw)
	if err != nil {
		return nil
	}
	return &Session{Claims: *claims, Hash: token.Hash(raw), Raw: raw}
}

// SetSessionToken replaces the held token. Unless the host flushes on
// unload, the token is written to storage before SetSessionToken returns.
// An empty raw token clears.
func (k *Keeper) SetSessionToken(ctx context.Context, raw string) error {
	if raw == "" {
		return k.ClearSessionToken(ctx)
	}
	k.writeMu.Lock()
	defer k.writeMu.Unlock()

	k.mu.Lock()
	k.raw = raw
	k.state = StateHydrated
	k.mu.Unlock()

	if k.store != nil && k.host.Unload == nil {
		if err := k.store.Set(ctx, k.key, raw); err != nil {
			return fmt.Errorf("storing session token: %w", err)
		}
	}
	k.log.Info("keeper.token.set", slog.String("hash", token.Hash(raw)))
	return nil
}

// ClearSessionToken drops the token from memory and storage. Clearing an
// empty Keeper is not an error.
func (k *Keeper) ClearSessionToken(ctx context.Context) error {
	k.writeMu.Lock()
	defer k.writeMu.Unlock()
	return k.clearLocked(ctx)
}

func (k *Keeper) clearLocked(ctx context.Context) error {
	k.mu.Lock()
	had := k.raw != ""
	k.raw = ""
	k.state = StateEmpty
	k.mu.Unlock()

	if k.store != nil {
		if err := k.store.Remove(ctx, k.key); err != nil {
			return fmt.Errorf("removing session token: %w", err)
		}
	}
	if had {
		k.log.Info("keeper.token.clear")
	}
	return nil
}

// SessionTokenStatus classifies the held token. A malformed token is purged
// and reported missing; an expired one is purged and reported expired, so
// the next call reports missing.
func (k *Keeper) SessionTokenStatus(ctx context.Context) token.Status {
	raw, ok := k.RawToken()
	if !ok {
		return token.StatusMissing
	}
	claims, err := token.Parse(raw)
	if err != nil {
		k.log.Debug("keeper.token.malformed", slog.Any("error", err))
		k.purge(ctx, raw)
		return token.StatusMissing
	}
	if claims.Expired(k.now()) {
		k.purge(ctx, raw)
		return token.StatusExpired
	}
	return token.StatusValid
}

// purge clears the token if it is still raw. Storage failures are logged:
// status queries never fail.
func (k *Keeper) purge(ctx context.Context, raw string) {
	k.writeMu.Lock()
	defer k.writeMu.Unlock()
	if cur, _ := k.RawToken(); cur != raw {
		return
	}
	if err := k.clearLocked(ctx); err != nil {
		k.log.Warn("keeper.token.purge.fail", slog.Any("error", err))
	}
}

// Logout clears the token and tells the other tabs to do the same.
func (k *Keeper) Logout(ctx context.Context) error {
	err := k.ClearSessionToken(ctx)
	if k.channel != nil {
		if e, ok := k.channel.(echoer); ok && e.Echoes() {
			k.mu.Lock()
			k.ownLogouts++
			k.mu.Unlock()
		}
		k.channel.Logout()
	}
	return err
}

// remoteLogout handles a logout broadcast. It never re-broadcasts, and it
// skips the echo of this Keeper's own Logout so a token set since then
// survives.
func (k *Keeper) remoteLogout() {
	k.mu.Lock()
	own := k.ownLogouts > 0
	if own {
		k.ownLogouts--
	}
	k.mu.Unlock()
	if own {
		k.log.Debug("keeper.logout.echo")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteLogoutTimeout)
	defer cancel()
	if err := k.ClearSessionToken(ctx); err != nil {
		k.log.Warn("keeper.logout.remote.fail", slog.Any("error", err))
	}
}

// Flush writes the held token to storage. It is what the unload hook runs;
// with nothing held it does nothing.
func (k *Keeper) Flush(ctx context.Context) error {
	k.writeMu.Lock()
	defer k.writeMu.Unlock()
	raw, ok := k.RawToken()
	if !ok || k.store == nil {
		return nil
	}
	if err := k.store.Set(ctx, k.key, raw); err != nil {
		return fmt.Errorf("flushing session token: %w", err)
	}
	return nil
}

func (k *Keeper) flushOnUnload() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := k.Flush(ctx); err != nil {
		k.log.Warn("keeper.flush.fail", slog.Any("error", err))
		return
	}
	k.log.Debug("keeper.flush")
}

// Close stops following logouts from other tabs. It does not flush.
func (k *Keeper) Close() {
	k.closeOnce.Do(func() {
		if k.unsubscribe != nil {
			k.unsubscribe()
		}
	})
}
