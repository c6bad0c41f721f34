package fakeapi

import (
	"sync"
	"time"

	"github.com/jmcleod/ironsession/internal/util"
)

// grant is one issued credential: an access token, a refresh token or a
// pending two factor challenge.
type grant struct {
	UserID    string
	ExpiresAt time.Time
}

// grantStore is a thread-safe in-memory map of opaque tokens to grants.
// Expired entries are dropped on lookup.
type grantStore struct {
	mu   sync.RWMutex
	data map[string]grant
	now  func() time.Time
}

func newGrantStore(now func() time.Time) *grantStore {
	return &grantStore{data: make(map[string]grant), now: now}
}

func (s *grantStore) issue(userID string, ttl time.Duration) (string, error) {
	token, err := util.RandomHex(24)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.data[token] = grant{UserID: userID, ExpiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *grantStore) get(token string) (grant, bool) {
	s.mu.RLock()
	g, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return grant{}, false
	}
	if !s.now().Before(g.ExpiresAt) {
		s.delete(token)
		return grant{}, false
	}
	return g, true
}

// take returns and removes a grant so it can be used only once.
func (s *grantStore) take(token string) (grant, bool) {
	g, ok := s.get(token)
	if ok {
		s.delete(token)
	}
	return g, ok
}

func (s *grantStore) delete(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}

// expireAll invalidates every grant.
func (s *grantStore) expireAll() {
	s.mu.Lock()
	s.data = make(map[string]grant)
	s.mu.Unlock()
}
