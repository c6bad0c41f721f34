package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/ironsession/storage"
)

// CredentialSink receives the current access token whenever it changes.
// Sinks are called while the store holds its write lock and must not call
// back into the Store.
type CredentialSink interface {
	SetToken(token string)
	ClearToken()
}

// Store is the single source of truth for the client's session. Every
// transition happens under one write lock, so readers never observe a user
// without a token or a token without a user.
type Store struct {
	mu        sync.RWMutex
	state     State
	gen       uint64 // bumped whenever the session is replaced or ended
	ttl       time.Duration
	sinks     []CredentialSink
	persister Persister
	audit     *auditLogger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the validity used when SetSession is not given an expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithPersister makes every transition durable through p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithCredentialSink registers sink at construction time.
func WithCredentialSink(sink CredentialSink) Option {
	return func(s *Store) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithLogger sets the logger used for session audit events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.audit = newAuditLogger(logger) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns an empty, signed-out Store. Call Restore to load a
// previously persisted session.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = newAuditLogger(nil)
	}
	return s
}

// AddCredentialSink registers sink and immediately hands it the current token.
func (s *Store) AddCredentialSink(sink CredentialSink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
	if s.state.AccessToken != "" {
		sink.SetToken(s.state.AccessToken)
	}
}

// SessionOption adjusts a single SetSession call.
type SessionOption func(*sessionParams)

type sessionParams struct {
	expiresIn     time.Duration
	refreshMarker string
	markerSet     bool
}

// WithExpiresIn sets how long the new token is valid. Non-positive values
// fall back to the store TTL.
func WithExpiresIn(d time.Duration) SessionOption {
	return func(p *sessionParams) { p.expiresIn = d }
}

// WithRefreshMarker records how the session can be refreshed. Without it a
// session for the same user keeps its previous marker.
func WithRefreshMarker(marker string) SessionOption {
	return func(p *sessionParams) {
		p.refreshMarker = marker
		p.markerSet = true
	}
}

// SetSession atomically installs user and accessToken. For the same user the
// expiry never moves backwards. Every call starts a new session generation.
func (s *Store) SetSession(user User, accessToken string, opts ...SessionOption) error {
	if err := validateSession(user, accessToken); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.installLocked(user, accessToken, opts)
}

// RefreshSession installs a refreshed token, but only while the session of
// generation gen is still the current one. A nil user keeps the signed-in
// user. It returns ErrSessionChanged when the session was ended or replaced
// since gen was read, and ErrNotAuthenticated when nobody is signed in. The
// generation is unchanged on success.
func (s *Store) RefreshSession(gen uint64, user *User, accessToken string, opts ...SessionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return ErrSessionChanged
	}
	if s.state.User == nil {
		return ErrNotAuthenticated
	}
	u := *s.state.User
	if user != nil {
		u = *user
	}
	if err := validateSession(u, accessToken); err != nil {
		return err
	}
	return s.installLocked(u, accessToken, opts)
}

// Generation identifies the current session. It changes on SetSession,
// Reset, Restore and EndSession, never on RefreshSession.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func validateSession(user User, accessToken string) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalidSession)
	}
	if accessToken == "" {
		return fmt.Errorf("%w: access token is empty", ErrInvalidSession)
	}
	return nil
}

func (s *Store) installLocked(user User, accessToken string, opts []SessionOption) error {
	var p sessionParams
	for _, opt := range opts {
		opt(&p)
	}
	ttl := p.expiresIn
	if ttl <= 0 {
		ttl = s.ttl
	}

	expiresAt := s.now().Add(ttl)
	marker := p.refreshMarker
	sameUser := s.state.User != nil && s.state.User.ID == user.ID
	if sameUser {
		if s.state.ExpiresAt.After(expiresAt) {
			expiresAt = s.state.ExpiresAt
		}
		if !p.markerSet {
			marker = s.state.RefreshMarker
		}
	}

	u := user
	s.state = State{
		User:          &u,
		AccessToken:   accessToken,
		RefreshMarker: marker,
		ExpiresAt:     expiresAt,
	}
	for _, sink := range s.sinks {
		sink.SetToken(accessToken)
	}

	attrs := append(userAttrs(&u), slog.Time("expires_at", expiresAt))
	s.audit.log(slog.LevelInfo, AuditSessionSet, attrs...)
	return s.persistLocked()
}

// Reset signs out: every field is cleared, sinks are emptied, and the
// persisted record is deleted.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

// EndSession resets the store only if generation gen is still current and
// signed in, so ending a session that was already replaced is a no-op. It
// reports whether the session was ended.
func (s *Store) EndSession(gen uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || !s.state.Authenticated() {
		return false, nil
	}
	return true, s.resetLocked()
}

func (s *Store) resetLocked() error {
	s.gen++
	prev := s.state.User
	s.state = State{}
	for _, sink := range s.sinks {
		sink.ClearToken()
	}
	s.audit.log(slog.LevelInfo, AuditSessionReset, userAttrs(prev)...)

	if s.persister == nil {
		return nil
	}
	if err := s.persister.Clear(); err != nil {
		s.audit.log(slog.LevelWarn, AuditSessionPersistFailed, slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// Restore loads the persisted session. A missing record leaves the store
// signed out and returns nil. An unreadable or partial record also leaves it
// signed out, logs a warning, and returns an error wrapping ErrCorruptRecord.
func (s *Store) Restore() error {
	if s.persister == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++

	rec, err := s.persister.Load()
	if errors.Is(err, storage.ErrNotFound) {
		s.clearLocked()
		return nil
	}
	var restored State
	if err == nil {
		restored, err = rec.state()
	}
	if err != nil {
		s.clearLocked()
		s.audit.log(slog.LevelWarn, AuditSessionRestoreFailed, slog.String("error", err.Error()))
		if !errors.Is(err, ErrCorruptRecord) {
			err = fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
		return err
	}

	s.state = restored
	if restored.AccessToken == "" {
		for _, sink := range s.sinks {
			sink.ClearToken()
		}
		return nil
	}
	for _, sink := range s.sinks {
		sink.SetToken(restored.AccessToken)
	}
	attrs := append(userAttrs(restored.User), slog.Time("expires_at", restored.ExpiresAt))
	s.audit.log(slog.LevelInfo, AuditSessionRestored, attrs...)
	return nil
}

func (s *Store) clearLocked() {
	s.state = State{}
	for _, sink := range s.sinks {
		sink.ClearToken()
	}
}

func (s *Store) persistLocked() error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(recordFromState(s.state)); err != nil {
		s.audit.log(slog.LevelWarn, AuditSessionPersistFailed, slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// IsAuthenticated reports whether a user and token are present.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Authenticated()
}

// User returns a copy of the signed-in user.
func (s *Store) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User == nil {
		return User{}, false
	}
	return *s.state.User, true
}

// AccessToken returns the current token and whether one is held.
func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken, s.state.AccessToken != ""
}

// ExpiresAt returns when the current token expires, or the zero time when
// signed out.
func (s *Store) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ExpiresAt
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// ExpiresWithin reports whether a token is held and expires within window.
func (s *Store) ExpiresWithin(window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.AccessToken == "" {
		return false
	}
	return s.state.ExpiresAt.Sub(s.now()) <= window
}

// HasRole reports whether the signed-in user has exactly role.
func (s *Store) HasRole(role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return HasRole(s.state.User, role)
}

// HasAnyRole reports whether the signed-in user has one of roles. It is
// false when nobody is signed in or roles is empty.
func (s *Store) HasAnyRole(roles ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return HasAnyRole(s.state.User, roles...)
}

// Authorize guards a route or action. With no roles it only requires a
// signed-in user.
func (s *Store) Authorize(roles ...string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Authenticated() {
		return ErrNotAuthenticated
	}
	if len(roles) > 0 && !HasAnyRole(s.state.User, roles...) {
		return fmt.Errorf("%w: role %q not in %v", ErrForbidden, s.state.User.Role, roles)
	}
	return nil
}
