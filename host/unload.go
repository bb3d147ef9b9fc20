package host

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Unloader registers hooks that run once when the tab is about to go away.
type Unloader interface {
	OnUnload(fn func())
}

// UnloadHooks is an Unloader fired explicitly by Unload or by a signal.
type UnloadHooks struct {
	mu    sync.Mutex
	hooks []func()
	fired bool
}

var _ Unloader = (*UnloadHooks)(nil)

// NewUnloadHooks creates an empty hook set.
func NewUnloadHooks() *UnloadHooks {
	return &UnloadHooks{}
}

// OnUnload registers fn. Hooks registered after Unload are ignored.
func (u *UnloadHooks) OnUnload(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fired {
		return
	}
	u.hooks = append(u.hooks, fn)
}

// Unload runs every registered hook in registration order. Only the first
// call does anything.
func (u *UnloadHooks) Unload() {
	u.mu.Lock()
	if u.fired {
		u.mu.Unlock()
		return
	}
	u.fired = true
	hooks := u.hooks
	u.hooks = nil
	u.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// NotifyOnSignal fires Unload when the process receives one of sigs
// (SIGINT and SIGTERM when none are given) or when ctx ends. The returned
// channel is closed after the hooks have run.
func (u *UnloadHooks) NotifyOnSignal(ctx context.Context, sigs ...os.Signal) <-chan struct{} {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sigCtx, stop := signal.NotifyContext(ctx, sigs...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stop()
		<-sigCtx.Done()
		u.Unload()
	}()
	return done
}
