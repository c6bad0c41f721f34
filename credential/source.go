// Package credential holds the bearer token the HTTP pipeline attaches to
// outgoing requests.
package credential

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Source keeps the current access token in a memguard Enclave, encrypted at
// rest in memory. It is fed by the session store and read by the transport.
// Call Destroy when done.
type Source struct {
	mu        sync.Mutex
	token     *memguard.Enclave
	destroyed bool
}

// NewSource returns an empty Source.
func NewSource() *Source {
	return &Source{}
}

// SetToken replaces the held token. An empty token clears it.
func (s *Source) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	// NewEnclave wipes its input, so it gets a private copy.
	buf := []byte(token)
	s.token = memguard.NewEnclave(buf)
}

// ClearToken drops the held token.
func (s *Source) ClearToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
}

// Token returns the held token. Opening is serialized so at most one locked
// buffer per source is alive at a time.
func (s *Source) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.token == nil {
		return "", false
	}
	b, err := s.token.Open()
	if err != nil {
		return "", false
	}
	defer b.Destroy()
	tok := string(b.Bytes())
	return tok, tok != ""
}

// Destroy drops the token. After Destroy the Source ignores SetToken.
func (s *Source) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	s.destroyed = true
}
