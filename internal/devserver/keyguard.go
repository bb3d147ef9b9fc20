package devserver

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// keyMaxFailures is how many wrong API keys a client may send before
	// it is locked out.
	keyMaxFailures = 10
	keyBaseLockout = 30 * time.Second
	keyMaxLockout  = 10 * time.Minute
	// keyFailureExpiry forgets a client this long after its last failure.
	keyFailureExpiry = time.Hour
	// keySweepInterval bounds how often fail scans for expired clients.
	keySweepInterval = time.Minute
)

// keyGuard backs off clients that keep presenting a wrong API key.
type keyGuard struct {
	mu       sync.Mutex
	now      func() time.Time
	failures map[string]*failureRecord
	swept    time.Time
}

type failureRecord struct {
	count       int
	last        time.Time
	lockedUntil time.Time
}

func newKeyGuard() *keyGuard {
	return &keyGuard{
		now:      time.Now,
		failures: make(map[string]*failureRecord),
	}
}

// check reports whether client is locked out and for how long.
func (g *keyGuard) check(client string) (blocked bool, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.failures[client]
	if !ok {
		return false, 0
	}
	now := g.now()
	if now.Sub(rec.last) > keyFailureExpiry {
		delete(g.failures, client)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// fail counts a wrong key. From keyMaxFailures on, each further failure
// doubles the lockout up to keyMaxLockout.
func (g *keyGuard) fail(client string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweepLocked(now)

	rec, ok := g.failures[client]
	if !ok {
		rec = &failureRecord{}
		g.failures[client] = rec
	}
	rec.count++
	rec.last = now
	if rec.count < keyMaxFailures {
		return
	}
	lockout := keyBaseLockout
	for i := keyMaxFailures; i < rec.count && lockout < keyMaxLockout; i++ {
		lockout *= 2
	}
	lockout = min(lockout, keyMaxLockout)
	rec.lockedUntil = rec.last.Add(lockout)
}

// sweepLocked forgets every client whose last failure has expired.
func (g *keyGuard) sweepLocked(now time.Time) {
	if now.Sub(g.swept) < keySweepInterval {
		return
	}
	g.swept = now
	for client, rec := range g.failures {
		if now.Sub(rec.last) > keyFailureExpiry {
			delete(g.failures, client)
		}
	}
}

func (g *keyGuard) succeed(client string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, client)
}

// clientAddr is the host part of the request's remote address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(max(int(d.Seconds()), 1))
}
