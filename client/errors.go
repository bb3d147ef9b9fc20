package client

import "errors"

var (
	// ErrMissingAPIURL is returned by New without Config.APIURL.
	ErrMissingAPIURL = errors.New("api url is required")
	// ErrMissingAPIKey is returned by New without Config.APIKey.
	ErrMissingAPIKey = errors.New("api key is required")
	// ErrNoSession is returned by AuthedDo when no valid session token is held.
	ErrNoSession = errors.New("no valid session token")
	// ErrUnexpectedStatus is returned when the server answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)
