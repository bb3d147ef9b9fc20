package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/keygate/channel/relay"
	"github.com/jmcleod/keygate/client"
	"github.com/jmcleod/keygate/token"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Config{
		APIKey:   testAPIKey,
		Logger:   slog.New(slog.DiscardHandler),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func refresh(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url+client.RefreshPath, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set(client.HeaderAPIKey, key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestRefreshIssuesVerifiableToken(t *testing.T) {
	s, ts := newTestServer(t)
	resp := refresh(t, ts.URL, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body refreshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	c, err := token.Parse(body.Token)
	require.NoError(t, err)
	assert.Equal(t, DefaultUID, c.UID)
	assert.NotEmpty(t, c.Nonce)
	assert.Equal(t, token.StatusValid, token.StatusOf(body.Token, time.Now()))

	var verified token.Claims
	_, err = jwt.ParseWithClaims(body.Token, &verified, func(*jwt.Token) (any, error) {
		return s.PublicKey(), nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	require.NoError(t, err)
	assert.Equal(t, c.UID, verified.UID)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.refresh.WithLabelValues("ok")))
}

func TestRefreshRejectsWrongKey(t *testing.T) {
	s, ts := newTestServer(t)
	for _, key := range []string{"", "nope"} {
		resp := refresh(t, ts.URL, key)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(s.refresh.WithLabelValues("unauthorized")))
}

func TestRefreshThrottles(t *testing.T) {
	_, ts := newTestServer(t)
	for range keyMaxFailures {
		refresh(t, ts.URL, "nope")
	}
	resp := refresh(t, ts.URL, testAPIKey)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	refresh(t, ts.URL, testAPIKey)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `keygate_devserver_refresh_total{result="ok"} 1`)
}

func TestChannelRelay(t *testing.T) {
	s, ts := newTestServer(t)
	d := relay.Dialer{URL: ts.URL + ChannelPath}

	a, err := d.Dial(t.Context(), "__keygate__")
	require.NoError(t, err)
	defer a.Close()
	b, err := d.Dial(t.Context(), "__keygate__")
	require.NoError(t, err)
	defer b.Close()
	require.Eventually(t, func() bool { return s.Relay().Peers("__keygate__") == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Publish(t.Context(), "_logout"))
	msg, err := b.Receive(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "_logout", msg)
}

func TestKeyGuard(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newKeyGuard()
	g.now = func() time.Time { return now }

	for range keyMaxFailures - 1 {
		g.fail("a")
	}
	blocked, _ := g.check("a")
	assert.False(t, blocked)

	g.fail("a")
	blocked, retry := g.check("a")
	assert.True(t, blocked)
	assert.Equal(t, keyBaseLockout, retry)

	g.fail("a")
	_, retry = g.check("a")
	assert.Equal(t, 2*keyBaseLockout, retry)

	for range 20 {
		g.fail("a")
	}
	_, retry = g.check("a")
	assert.Equal(t, keyMaxLockout, retry)

	blocked, _ = g.check("b")
	assert.False(t, blocked, "other clients are unaffected")

	now = now.Add(keyFailureExpiry + time.Second)
	blocked, _ = g.check("a")
	assert.False(t, blocked)

	g.fail("c")
	g.succeed("c")
	assert.NotContains(t, g.failures, "c")
}

func TestKeyGuardForgetsExpiredClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newKeyGuard()
	g.now = func() time.Time { return now }

	for i := range 100 {
		g.fail(fmt.Sprintf("10.0.0.%d", i))
	}
	require.Len(t, g.failures, 100)

	now = now.Add(keyFailureExpiry + time.Second)
	g.fail("10.0.1.1")
	assert.Len(t, g.failures, 1)
	assert.Contains(t, g.failures, "10.0.1.1")

	// Sweeps are rate limited; a client that expires between sweeps is
	// dropped by the next one.
	now = now.Add(keySweepInterval / 2)
	g.fail("10.0.1.2")
	assert.Len(t, g.failures, 2)
	now = now.Add(keyFailureExpiry + time.Second)
	g.fail("10.0.1.3")
	assert.Len(t, g.failures, 1)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(300*time.Millisecond))
	assert.Equal(t, "30", retryAfterSeconds(30*time.Second))
}
