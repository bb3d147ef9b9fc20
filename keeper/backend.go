package keeper

import "fmt"

// Backend names where the session token is persisted.
type Backend string

const (
	// BackendMemory keeps the token in process memory only.
	BackendMemory Backend = "memory"
	// BackendLocalStorage persists into the host's shared storage.
	BackendLocalStorage Backend = "localStorage"
	// BackendSessionStorage persists into the host's per-tab storage.
	BackendSessionStorage Backend = "sessionStorage"
	// BackendSecureStorage persists into a store supplied by the caller.
	BackendSecureStorage Backend = "secureStorage"
)

// Backends lists every known backend.
var Backends = []Backend{BackendMemory, BackendLocalStorage, BackendSessionStorage, BackendSecureStorage}

// ParseBackend maps a backend name to a Backend.
func ParseBackend(s string) (Backend, error) {
	for _, b := range Backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownBackend)
}
