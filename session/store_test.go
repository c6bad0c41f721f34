package session

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmcleod/ironsession/storage"
	"github.com/jmcleod/ironsession/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMaster = bytes.Repeat([]byte{0x42}, 32)

type recordingSink struct {
	mu     sync.Mutex
	token  string
	clears int
}

func (r *recordingSink) SetToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}

func (r *recordingSink) ClearToken() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = ""
	r.clears++
}

func (r *recordingSink) current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func alice() User {
	return User{ID: "u-1", Email: "alice@example.com", FullName: "Alice", Role: RoleAdmin}
}

func newPersistedStore(t *testing.T, repo storage.Repository, opts ...Option) *Store {
	t.Helper()
	p, err := NewRepositoryPersister(repo, testMaster)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return NewStore(append([]Option{WithPersister(p)}, opts...)...)
}

func TestNewStoreIsSignedOut(t *testing.T) {
	s := NewStore()
	assert.False(t, s.IsAuthenticated())
	_, ok := s.User()
	assert.False(t, ok)
	_, ok = s.AccessToken()
	assert.False(t, ok)
	assert.True(t, s.ExpiresAt().IsZero())
}

func TestSetSession(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}
	s := NewStore(WithClock(clock.Now), WithCredentialSink(sink))

	require.NoError(t, s.SetSession(alice(), "tok-1"))

	assert.True(t, s.IsAuthenticated())
	u, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", u.Email)
	tok, ok := s.AccessToken()
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, clock.Now().Add(DefaultTTL), s.ExpiresAt())
	assert.Equal(t, "tok-1", sink.current())
}

func TestSetSessionExpiresIn(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	require.NoError(t, s.SetSession(alice(), "tok", WithExpiresIn(time.Hour)))
	assert.Equal(t, clock.Now().Add(time.Hour), s.ExpiresAt())
}

func TestSetSessionCustomTTL(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now), WithTTL(5*time.Minute))

	require.NoError(t, s.SetSession(alice(), "tok", WithExpiresIn(-time.Second)))
	assert.Equal(t, clock.Now().Add(5*time.Minute), s.ExpiresAt())
}

func TestSetSessionValidation(t *testing.T) {
	s := NewStore()

	err := s.SetSession(User{Email: "x@example.com"}, "tok")
	assert.ErrorIs(t, err, ErrInvalidSession)

	err = s.SetSession(alice(), "")
	assert.ErrorIs(t, err, ErrInvalidSession)

	assert.False(t, s.IsAuthenticated(), "a rejected call must not change state")
}

func TestSetSessionExpiryNeverDecreasesForSameUser(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	require.NoError(t, s.SetSession(alice(), "tok-1", WithExpiresIn(time.Hour)))
	first := s.ExpiresAt()

	// A shorter-lived refresh must not pull the expiry back.
	require.NoError(t, s.SetSession(alice(), "tok-2", WithExpiresIn(time.Minute)))
	assert.Equal(t, first, s.ExpiresAt())
	tok, _ := s.AccessToken()
	assert.Equal(t, "tok-2", tok)

	clock.Advance(2 * time.Hour)
	require.NoError(t, s.SetSession(alice(), "tok-3", WithExpiresIn(time.Minute)))
	assert.Equal(t, clock.Now().Add(time.Minute), s.ExpiresAt())
}

func TestSetSessionDifferentUserStartsNewLifetime(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	require.NoError(t, s.SetSession(alice(), "tok-1", WithExpiresIn(time.Hour)))
	bob := User{ID: "u-2", Role: RoleCollector}
	require.NoError(t, s.SetSession(bob, "tok-2", WithExpiresIn(time.Minute)))

	assert.Equal(t, clock.Now().Add(time.Minute), s.ExpiresAt())
	u, _ := s.User()
	assert.Equal(t, "u-2", u.ID)
}

func TestRefreshMarkerRetainedForSameUser(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.SetSession(alice(), "tok-1", WithRefreshMarker(CookieMarker)))
	require.NoError(t, s.SetSession(alice(), "tok-2"))
	assert.Equal(t, CookieMarker, s.Snapshot().RefreshMarker)

	require.NoError(t, s.SetSession(User{ID: "u-2"}, "tok-3"))
	assert.Empty(t, s.Snapshot().RefreshMarker)
}

func TestReset(t *testing.T) {
	sink := &recordingSink{}
	repo := memory.NewRepository()
	s := newPersistedStore(t, repo, WithCredentialSink(sink))

	require.NoError(t, s.SetSession(alice(), "tok", WithRefreshMarker(CookieMarker)))
	require.NoError(t, s.Reset())

	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, State{}, s.Snapshot())
	assert.Empty(t, sink.current())
	_, err := repo.Get(PersistBucket, PersistKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Reset(), "resetting a signed-out store is a no-op")
}

func TestGenerationChangesOnTransitions(t *testing.T) {
	s := NewStore()
	g0 := s.Generation()

	require.NoError(t, s.SetSession(alice(), "tok-1"))
	g1 := s.Generation()
	assert.NotEqual(t, g0, g1)

	require.NoError(t, s.RefreshSession(g1, nil, "tok-2"))
	assert.Equal(t, g1, s.Generation(), "a refresh continues the same session")

	require.NoError(t, s.SetSession(alice(), "tok-3"))
	g2 := s.Generation()
	assert.NotEqual(t, g1, g2, "a new login is a new session")

	require.NoError(t, s.Reset())
	assert.NotEqual(t, g2, s.Generation())
}

func TestRefreshSession(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}
	s := NewStore(WithClock(clock.Now), WithCredentialSink(sink))
	require.NoError(t, s.SetSession(alice(), "tok-1", WithRefreshMarker(CookieMarker)))
	gen := s.Generation()

	require.NoError(t, s.RefreshSession(gen, nil, "tok-2", WithExpiresIn(2*time.Hour)))
	snap := s.Snapshot()
	assert.Equal(t, "tok-2", snap.AccessToken)
	assert.Equal(t, "alice@example.com", snap.User.Email)
	assert.Equal(t, CookieMarker, snap.RefreshMarker)
	assert.Equal(t, clock.Now().Add(2*time.Hour), snap.ExpiresAt)
	assert.Equal(t, "tok-2", sink.current())

	promoted := alice()
	promoted.Role = RoleSuperAdmin
	require.NoError(t, s.RefreshSession(gen, &promoted, "tok-3"))
	assert.True(t, s.HasRole(RoleSuperAdmin))

	err := s.RefreshSession(gen, nil, "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRefreshSessionAfterResetIsRejected(t *testing.T) {
	sink := &recordingSink{}
	repo := memory.NewRepository()
	s := newPersistedStore(t, repo, WithCredentialSink(sink))
	require.NoError(t, s.SetSession(alice(), "tok-1"))
	gen := s.Generation()

	require.NoError(t, s.Reset())
	err := s.RefreshSession(gen, nil, "late-token")
	assert.ErrorIs(t, err, ErrSessionChanged)

	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, sink.current())
	_, err = repo.Get(PersistBucket, PersistKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A grant carrying its own user cannot sign the store back in either.
	err = s.RefreshSession(gen, &User{ID: "u-1"}, "late-token")
	assert.ErrorIs(t, err, ErrSessionChanged)
	assert.False(t, s.IsAuthenticated())
}

func TestRefreshSessionAfterNewLoginIsRejected(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetSession(alice(), "tok-1"))
	gen := s.Generation()

	require.NoError(t, s.SetSession(User{ID: "u-2"}, "bob-token"))
	assert.ErrorIs(t, s.RefreshSession(gen, nil, "late-token"), ErrSessionChanged)

	tok, _ := s.AccessToken()
	assert.Equal(t, "bob-token", tok)
}

func TestRefreshSessionWhenSignedOut(t *testing.T) {
	s := NewStore()
	err := s.RefreshSession(s.Generation(), &User{ID: "u-1"}, "tok")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, s.IsAuthenticated())
}

func TestEndSession(t *testing.T) {
	sink := &recordingSink{}
	s := NewStore(WithCredentialSink(sink))
	require.NoError(t, s.SetSession(alice(), "tok-1"))
	stale := s.Generation()

	require.NoError(t, s.SetSession(alice(), "tok-2"))
	ended, err := s.EndSession(stale)
	require.NoError(t, err)
	assert.False(t, ended, "a replaced session is left alone")
	assert.True(t, s.IsAuthenticated())

	ended, err = s.EndSession(s.Generation())
	require.NoError(t, err)
	assert.True(t, ended)
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, sink.current())

	ended, err = s.EndSession(s.Generation())
	require.NoError(t, err)
	assert.False(t, ended, "nothing to end when signed out")
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetSession(alice(), "tok"))

	snap := s.Snapshot()
	snap.User.Role = RoleSuperAdmin

	assert.True(t, s.HasRole(RoleAdmin))
	assert.False(t, s.HasRole(RoleSuperAdmin))
}

func TestPersistAndRestore(t *testing.T) {
	clock := newFakeClock()
	repo := memory.NewRepository()

	s1 := newPersistedStore(t, repo, WithClock(clock.Now))
	require.NoError(t, s1.SetSession(alice(), "tok-1", WithRefreshMarker(CookieMarker), WithExpiresIn(10*time.Minute)))

	sink := &recordingSink{}
	s2 := newPersistedStore(t, repo, WithCredentialSink(sink))
	require.NoError(t, s2.Restore())

	snap := s2.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, alice().Email, snap.User.Email)
	assert.Equal(t, "tok-1", snap.AccessToken)
	assert.Equal(t, CookieMarker, snap.RefreshMarker)
	assert.Equal(t, clock.Now().Add(10*time.Minute).UnixMilli(), snap.ExpiresAt.UnixMilli())
	assert.Equal(t, "tok-1", sink.current())
}

func TestRestoreMissingRecord(t *testing.T) {
	s := newPersistedStore(t, memory.NewRepository())
	require.NoError(t, s.Restore())
	assert.False(t, s.IsAuthenticated())
}

func TestRestoreWithoutPersister(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetSession(alice(), "tok"))
	require.NoError(t, s.Restore())
	assert.True(t, s.IsAuthenticated(), "restore without a persister leaves state alone")
}

func TestRestoreCorruptRecords(t *testing.T) {
	tests := []struct {
		name string
		seed func(t *testing.T, repo storage.Repository)
	}{
		{
			name: "not json",
			seed: func(t *testing.T, repo storage.Repository) {
				rec, err := storage.NewSealedRecord(repo, testMaster, PersistBucket, PersistKey)
				require.NoError(t, err)
				require.NoError(t, rec.Save([]byte("{not json")))
			},
		},
		{
			name: "wrong key",
			seed: func(t *testing.T, repo storage.Repository) {
				rec, err := storage.NewSealedRecord(repo, bytes.Repeat([]byte{1}, 32), PersistBucket, PersistKey)
				require.NoError(t, err)
				require.NoError(t, rec.Save([]byte(`{"user":{"id":"u-1"},"accessToken":"tok"}`)))
			},
		},
		{
			name: "garbage envelope",
			seed: func(t *testing.T, repo storage.Repository) {
				require.NoError(t, repo.Put(PersistBucket, PersistKey, &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: []byte("short")}))
			},
		},
		{
			name: "token without user",
			seed: func(t *testing.T, repo storage.Repository) {
				p, err := NewRepositoryPersister(repo, testMaster)
				require.NoError(t, err)
				require.NoError(t, p.Save(Record{AccessToken: "tok"}))
			},
		},
		{
			name: "user without token",
			seed: func(t *testing.T, repo storage.Repository) {
				p, err := NewRepositoryPersister(repo, testMaster)
				require.NoError(t, err)
				u := alice()
				require.NoError(t, p.Save(Record{User: &u}))
			},
		},
		{
			name: "user without id",
			seed: func(t *testing.T, repo storage.Repository) {
				p, err := NewRepositoryPersister(repo, testMaster)
				require.NoError(t, err)
				require.NoError(t, p.Save(Record{User: &User{Email: "x@example.com"}, AccessToken: "tok"}))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewRepository()
			tt.seed(t, repo)

			sink := &recordingSink{token: "stale"}
			s := newPersistedStore(t, repo, WithCredentialSink(sink))
			err := s.Restore()

			assert.ErrorIs(t, err, ErrCorruptRecord)
			assert.False(t, s.IsAuthenticated())
			assert.Equal(t, State{}, s.Snapshot())
			assert.Empty(t, sink.current())
		})
	}
}

func TestRestoreEmptyRecord(t *testing.T) {
	repo := memory.NewRepository()
	p, err := NewRepositoryPersister(repo, testMaster)
	require.NoError(t, err)
	require.NoError(t, p.Save(Record{}))

	s := NewStore(WithPersister(p))
	require.NoError(t, s.Restore())
	assert.False(t, s.IsAuthenticated())
}

type failingPersister struct {
	err error
}

func (f failingPersister) Load() (Record, error) { return Record{}, f.err }
func (f failingPersister) Save(Record) error     { return f.err }
func (f failingPersister) Clear() error          { return f.err }

func TestPersistFailureStillTransitions(t *testing.T) {
	boom := errors.New("disk full")
	s := NewStore(WithPersister(failingPersister{err: boom}))

	err := s.SetSession(alice(), "tok")
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.IsAuthenticated())

	err = s.Reset()
	assert.ErrorIs(t, err, ErrPersist)
	assert.False(t, s.IsAuthenticated())
}

func TestRestoreLoadFailure(t *testing.T) {
	s := NewStore(WithPersister(failingPersister{err: errors.New("backend down")}))
	err := s.Restore()
	assert.ErrorIs(t, err, ErrCorruptRecord)
	assert.False(t, s.IsAuthenticated())
}

func TestAddCredentialSinkReceivesCurrentToken(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetSession(alice(), "tok"))

	sink := &recordingSink{}
	s.AddCredentialSink(sink)
	assert.Equal(t, "tok", sink.current())

	require.NoError(t, s.Reset())
	assert.Empty(t, sink.current())
	s.AddCredentialSink(nil)
}

func TestExpiresWithin(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	assert.False(t, s.ExpiresWithin(time.Hour), "no token means nothing to expire")

	require.NoError(t, s.SetSession(alice(), "tok", WithExpiresIn(time.Minute)))
	assert.False(t, s.ExpiresWithin(30*time.Second))

	clock.Advance(31 * time.Second)
	assert.True(t, s.ExpiresWithin(30*time.Second))

	clock.Advance(time.Hour)
	assert.True(t, s.ExpiresWithin(0))
}

func TestAuthorize(t *testing.T) {
	s := NewStore()
	assert.ErrorIs(t, s.Authorize(), ErrNotAuthenticated)
	assert.ErrorIs(t, s.Authorize(RoleAdmin), ErrNotAuthenticated)

	require.NoError(t, s.SetSession(User{ID: "u-3", Role: RoleCollector}, "tok"))
	assert.NoError(t, s.Authorize())
	assert.NoError(t, s.Authorize(RoleAdmin, RoleCollector))
	assert.ErrorIs(t, s.Authorize(RoleAdmin, RoleSuperAdmin), ErrForbidden)
}

func TestConcurrentTransitionsAreAtomic(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				if (snap.User == nil) != (snap.AccessToken == "") {
					t.Errorf("observed partial state: user=%v token=%q", snap.User, snap.AccessToken)
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		if i%2 == 0 {
			require.NoError(t, s.SetSession(alice(), "tok"))
		} else {
			require.NoError(t, s.Reset())
		}
	}
	close(stop)
	wg.Wait()
}
