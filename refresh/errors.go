package refresh

import "errors"

var (
	// ErrRefreshFailed wraps every failed refresh: transport errors, non-2xx
	// responses, empty tokens and timeouts.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrEmptyToken is returned when the exchange succeeds without a token.
	ErrEmptyToken = errors.New("refresh returned no access token")
	// ErrNoSession is returned by EnsureFresh when no token is held.
	ErrNoSession = errors.New("no session to refresh")
)
