// Package token parses and classifies keygate session tokens.
//
// A session token is three base64url segments, header.payload.signature. The
// header carries the non-standard type tag [Type]; the payload carries the
// subject (uid), the expiry in Unix seconds (exp) and a nonce.
//
// The signature segment is never checked here. Session tokens are verified by
// the issuing server; clients only need the payload to know who is logged in
// and for how long.
package token
