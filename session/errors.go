package session

import "errors"

var (
	// ErrInvalidSession is returned by SetSession for an empty user ID or token.
	ErrInvalidSession = errors.New("invalid session")
	// ErrPersist wraps failures writing or deleting the persisted record.
	// The in-memory transition has already happened when it is returned.
	ErrPersist = errors.New("session persistence failed")
	// ErrCorruptRecord is returned when a persisted record cannot be opened,
	// decoded, or is only partially populated.
	ErrCorruptRecord = errors.New("corrupt session record")
	// ErrSessionChanged is returned by RefreshSession when the session it was
	// meant for has since been ended or replaced.
	ErrSessionChanged = errors.New("session changed during refresh")
	// ErrNotAuthenticated is returned by Authorize when nobody is signed in.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrForbidden is returned by Authorize when the user lacks every allowed role.
	ErrForbidden = errors.New("forbidden")
)
