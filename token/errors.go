package token

import "errors"

var (
	// ErrMalformed indicates the token could not be split or decoded.
	ErrMalformed = errors.New("malformed session token")
	// ErrWrongType indicates the header type tag is not a session token.
	ErrWrongType = errors.New("not a session token")
	// ErrMissingClaim indicates a required payload field is absent.
	ErrMissingClaim = errors.New("missing session token claim")
)
