// Package keeper holds a client's session token.
//
// A Keeper is the single owner of the token for one tab. It keeps the
// raw token in memory, mirrors it into the configured storage backend and
// derives its status on demand. Malformed and expired tokens are purged
// rather than reported as errors: to callers they are simply no token.
//
// Persistence follows the host: when the host promises an unload hook the
// token is written once, right before the tab goes away; otherwise every
// SetSessionToken writes through.
package keeper
