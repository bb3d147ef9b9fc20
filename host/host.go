// Package host describes the capabilities of the environment a keygate
// client runs in: which storages exist, and whether the process gets a
// reliable chance to flush state before it goes away.
//
// A browser tab would report localStorage, sessionStorage and, on desktop,
// a beforeunload hook. A Go process decides the same things explicitly.
package host

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/keygate/storage"
	"github.com/jmcleod/keygate/storage/bbolt"
	"github.com/jmcleod/keygate/storage/memory"
)

// LocalStorageFile is the bbolt file Local creates in its data directory.
const LocalStorageFile = "local.db"

// Host is the capability bundle handed to a keeper at construction.
type Host struct {
	// LocalStorage is shared by every tab of the origin and outlives them.
	// Nil when the host has no persistent storage.
	LocalStorage storage.Storage
	// SessionStorage lives as long as one tab. Nil when unavailable.
	SessionStorage storage.Storage
	// Unload runs hooks right before the tab goes away. Nil when the host
	// cannot promise that, which makes keepers write through on every set.
	Unload Unloader
}

// Headless returns a host with no storage and no unload hook, like a
// server-side runtime. Only the memory and secureStorage backends work.
func Headless() Host {
	return Host{}
}

// Local returns a host whose localStorage is a bbolt file under dataDir and
// whose sessionStorage is private to the returned Host. Unload is left nil;
// set it to an *UnloadHooks to enable flush-on-unload.
func Local(dataDir string) (Host, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return Host{}, fmt.Errorf("creating data directory: %w", err)
	}
	local, err := bbolt.NewFromFile(filepath.Join(dataDir, LocalStorageFile), nil)
	if err != nil {
		return Host{}, fmt.Errorf("opening local storage: %w", err)
	}
	return Host{
		LocalStorage:   local,
		SessionStorage: memory.New(),
	}, nil
}
