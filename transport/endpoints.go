package transport

import (
	"net/url"
	"strings"
)

// DefaultExcludedEndpoints never trigger a refresh on 401: a failed login
// or refresh means the credentials themselves were rejected.
var DefaultExcludedEndpoints = []string{
	"/api/auth/refresh",
	"/api/auth/login",
	"/api/auth/verify-2fa",
}

// Endpoints matches request URLs against a set of excluded path fragments.
type Endpoints struct {
	excluded []string
}

// NewEndpoints returns a matcher for paths. Empty entries are ignored.
func NewEndpoints(paths ...string) *Endpoints {
	e := &Endpoints{}
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			e.excluded = append(e.excluded, p)
		}
	}
	return e
}

// Excluded reports whether u's path contains any excluded fragment.
func (e *Endpoints) Excluded(u *url.URL) bool {
	if e == nil || u == nil {
		return false
	}
	for _, p := range e.excluded {
		if strings.Contains(u.Path, p) {
			return true
		}
	}
	return false
}

// Paths returns a copy of the excluded fragments.
func (e *Endpoints) Paths() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.excluded...)
}
