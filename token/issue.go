package token

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Issuer mints signed session tokens. Clients never need one; it backs the
// development auth server and tests.
type Issuer struct {
	key ed25519.PrivateKey
	ttl time.Duration
	now func() time.Time
}

// NewIssuer returns an Issuer signing with key. Tokens expire ttl after issue.
func NewIssuer(key ed25519.PrivateKey, ttl time.Duration) *Issuer {
	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// Issue mints a token for uid with a fresh ULID nonce.
func (i *Issuer) Issue(uid string) (string, error) {
	c := Claims{
		UID:   uid,
		Exp:   float64(i.now().Add(i.ttl).Unix()),
		Nonce: ulid.Make().String(),
	}
	return Sign(i.key, c)
}

// Sign encodes c as a session token signed with EdDSA.
func Sign(key ed25519.PrivateKey, c Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	t.Header["typ"] = Type
	s, err := t.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return s, nil
}
