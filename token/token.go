package token

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Type is the header type tag every session token carries.
const Type = "KGST"

// Status is the derived state of the session token held by a client.
type Status string

const (
	StatusMissing Status = "missing"
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
)

// Claims is the decoded payload of a session token.
type Claims struct {
	UID   string  `json:"uid"`
	Exp   float64 `json:"exp"`
	Nonce string  `json:"nonce"`
}

var _ jwt.Claims = Claims{}

// ExpiresAt converts the exp claim to a time.
func (c Claims) ExpiresAt() time.Time {
	sec, frac := math.Modf(c.Exp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Expired reports whether the token is no longer valid at now. The comparison
// is done in milliseconds: a token is valid iff exp*1000 > now.
func (c Claims) Expired(now time.Time) bool {
	return !(c.Exp*1000 > float64(now.UnixMilli()))
}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(c.ExpiresAt()), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return "", nil }
func (c Claims) GetSubject() (string, error)             { return c.UID, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// rawClaims decodes the payload with pointer fields so absent claims can be
// told apart from zero values. A claim of the wrong JSON type fails decoding.
type rawClaims struct {
	UID   *string  `json:"uid"`
	Exp   *float64 `json:"exp"`
	Nonce *string  `json:"nonce"`
}

func (c *rawClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c *rawClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c *rawClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *rawClaims) GetIssuer() (string, error)                   { return "", nil }
func (c *rawClaims) GetSubject() (string, error)                  { return "", nil }
func (c *rawClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// Parse decodes a raw session token without verifying its signature.
//
// A token is well-formed iff it has three segments, header and payload both
// decode as base64 then JSON, the header typ equals [Type], and the payload
// holds uid (string), exp (number) and nonce (string).
func Parse(raw string) (*Claims, error) {
	var rc rawClaims
	tok, _, err := parser.ParseUnverified(raw, &rc)
	// An unknown or absent alg only matters for verification, which is
	// not done client-side; header and payload are already decoded.
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if tok == nil {
		return nil, ErrMalformed
	}
	if typ, _ := tok.Header["typ"].(string); typ != Type {
		return nil, ErrWrongType
	}
	switch {
	case rc.UID == nil:
		return nil, fmt.Errorf("%w: uid", ErrMissingClaim)
	case rc.Exp == nil:
		return nil, fmt.Errorf("%w: exp", ErrMissingClaim)
	case rc.Nonce == nil:
		return nil, fmt.Errorf("%w: nonce", ErrMissingClaim)
	}
	return &Claims{UID: *rc.UID, Exp: *rc.Exp, Nonce: *rc.Nonce}, nil
}

// StatusOf classifies a raw token at now. Malformed tokens are missing.
func StatusOf(raw string, now time.Time) Status {
	if raw == "" {
		return StatusMissing
	}
	c, err := Parse(raw)
	if err != nil {
		return StatusMissing
	}
	if c.Expired(now) {
		return StatusExpired
	}
	return StatusValid
}

// Hash returns a content hash of the raw token: base64 of the hex-encoded
// SHA-256 digest, so callers can tell whether the token changed.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(sum[:])))
}
