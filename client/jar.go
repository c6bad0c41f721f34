package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/session"
	"github.com/jmcleod/ironsession/storage"
	"golang.org/x/net/publicsuffix"
)

// CookiePersistKey addresses the sealed cookie record in the session bucket.
const CookiePersistKey = "cookies"

// CookieStore persists cookies set by the backend.
type CookieStore interface {
	LoadCookies() ([]*http.Cookie, error)
	SaveCookies([]*http.Cookie) error
	ClearCookies() error
}

// PersistentJar is an http.CookieJar that mirrors the backend host's
// cookies into a CookieStore. Cookies for other hosts stay in memory only.
type PersistentJar struct {
	mu      sync.Mutex
	jar     *cookiejar.Jar
	base    *url.URL
	store   CookieStore
	cookies map[string]*http.Cookie
	logger  *slog.Logger
	now     func() time.Time
}

var _ http.CookieJar = (*PersistentJar)(nil)

// NewPersistentJar loads previously stored cookies for base into a fresh jar.
// A store that cannot be read is logged and treated as empty.
func NewPersistentJar(base *url.URL, store CookieStore, logger *slog.Logger) (*PersistentJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &PersistentJar{
		jar:     jar,
		base:    base,
		store:   store,
		cookies: make(map[string]*http.Cookie),
		logger:  logger,
		now:     time.Now,
	}

	loaded, err := store.LoadCookies()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warn("discarding unreadable cookie store", "error", err)
		loaded = nil
	}
	var live []*http.Cookie
	for _, ck := range loaded {
		if j.expired(ck) {
			continue
		}
		j.cookies[cookieKey(ck)] = ck
		live = append(live, ck)
	}
	if len(live) > 0 {
		jar.SetCookies(base, live)
	}
	return j, nil
}

func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	jar := j.jar
	j.mu.Unlock()
	return jar.Cookies(u)
}

func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)
	if !strings.EqualFold(u.Hostname(), j.base.Hostname()) {
		return
	}
	for _, ck := range cookies {
		key := cookieKey(ck)
		if j.expired(ck) {
			delete(j.cookies, key)
			continue
		}
		stored := *ck
		stored.Raw = ""
		stored.Unparsed = nil
		if stored.MaxAge > 0 {
			stored.Expires = j.now().Add(time.Duration(stored.MaxAge) * time.Second)
			stored.MaxAge = 0
		}
		j.cookies[key] = &stored
	}
	j.saveLocked()
}

// Clear forgets every persisted cookie. Cookies already in the in-memory
// jar are dropped by replacing it.
func (j *PersistentJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string]*http.Cookie)
	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		j.jar = jar
	}
	if err := j.store.ClearCookies(); err != nil {
		j.logger.Warn("clearing cookie store", "error", err)
	}
}

func (j *PersistentJar) saveLocked() {
	list := make([]*http.Cookie, 0, len(j.cookies))
	for _, ck := range j.cookies {
		list = append(list, ck)
	}
	if err := j.store.SaveCookies(list); err != nil {
		j.logger.Warn("persisting cookies", "error", err)
	}
}

func (j *PersistentJar) expired(ck *http.Cookie) bool {
	if ck.MaxAge < 0 {
		return true
	}
	return !ck.Expires.IsZero() && !ck.Expires.After(j.now())
}

func cookieKey(ck *http.Cookie) string {
	return ck.Domain + ";" + ck.Path + ";" + ck.Name
}

// RepositoryCookieStore seals the cookie list into a storage.Repository.
type RepositoryCookieStore struct {
	record *storage.SealedRecord
}

var _ CookieStore = (*RepositoryCookieStore)(nil)

// NewRepositoryCookieStore binds a cookie store to repo using a record key
// derived from master.
func NewRepositoryCookieStore(repo storage.Repository, master []byte) (*RepositoryCookieStore, error) {
	rec, err := storage.NewSealedRecord(repo, master, session.PersistBucket, CookiePersistKey)
	if err != nil {
		return nil, err
	}
	return &RepositoryCookieStore{record: rec}, nil
}

func (s *RepositoryCookieStore) LoadCookies() ([]*http.Cookie, error) {
	data, err := s.record.Load()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)
	var cookies []*http.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("decoding cookies: %w", err)
	}
	return cookies, nil
}

func (s *RepositoryCookieStore) SaveCookies(cookies []*http.Cookie) error {
	data, err := json.Marshal(cookies)
	if err != nil {
		return err
	}
	defer util.WipeBytes(data)
	return s.record.Save(data)
}

func (s *RepositoryCookieStore) ClearCookies() error {
	return s.record.Clear()
}

// Close wipes the record key.
func (s *RepositoryCookieStore) Close() {
	s.record.Close()
}
