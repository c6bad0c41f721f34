// Package session holds the client-side authentication state: who is signed
// in, the current access token, and when that token stops being valid.
package session

import "time"

const (
	// DefaultTTL is the validity assumed for a token when the server does
	// not say how long it lives.
	DefaultTTL = 15 * time.Minute

	// CookieMarker is stored as the refresh marker when the real refresh
	// secret is an HTTP-only cookie the client never sees.
	CookieMarker = "cookie"
)

// User is the authenticated principal as returned by the backend.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FullName         string    `json:"full_name"`
	Role             string    `json:"role"`
	TwoFactorEnabled bool      `json:"is_2fa_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// State is a point-in-time view of the session. User is nil and
// AccessToken is empty when nobody is signed in.
type State struct {
	User          *User
	AccessToken   string
	RefreshMarker string
	ExpiresAt     time.Time
}

// Authenticated reports whether the state carries both a user and a token.
func (s State) Authenticated() bool {
	return s.User != nil && s.AccessToken != ""
}

func (s State) clone() State {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}
