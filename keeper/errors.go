package keeper

import "errors"

var (
	// ErrUnknownBackend is returned by New for a backend name it does not know.
	ErrUnknownBackend = errors.New("unknown storage backend")
	// ErrBackendUnavailable is returned by New when the host lacks the
	// storage the selected backend needs.
	ErrBackendUnavailable = errors.New("storage backend unavailable on this host")
	// ErrSecureStorageRequired is returned by New when the secureStorage
	// backend is selected without a store.
	ErrSecureStorageRequired = errors.New("secureStorage backend requires a store")
)
