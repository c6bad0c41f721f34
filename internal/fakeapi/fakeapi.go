// Package fakeapi is an in-process backend implementing the auth and
// protected endpoints the client consumes. Tests and the example run
// against it; it is not a production server.
package fakeapi

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmcleod/ironsession/session"
)

const (
	// RefreshCookieName holds the refresh token. It is HTTP-only and scoped
	// to the auth routes.
	RefreshCookieName = "refresh_token"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	challengeTTL      = 5 * time.Minute
)

// API is the fake backend.
type API struct {
	accounts   map[string]Account // by lower-cased email
	byID       map[string]Account
	access     *grantStore
	refresh    *grantStore
	challenges *grantStore
	limiter    *loginRateLimiter
	logger     *slog.Logger
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu            sync.Mutex
	refreshStatus int
	refreshDelay  time.Duration

	loginCalls   atomic.Int64
	refreshCalls atomic.Int64
	logoutCalls  atomic.Int64
}

// Option configures the API instance.
type Option func(*API)

func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(a *API) { a.accessTTL = d }
}

func WithRefreshTTL(d time.Duration) Option {
	return func(a *API) { a.refreshTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// WithAccounts replaces the demo accounts.
func WithAccounts(accounts ...Account) Option {
	return func(a *API) {
		a.accounts = make(map[string]Account)
		a.byID = make(map[string]Account)
		for _, acct := range accounts {
			a.addAccount(acct)
		}
	}
}

// New creates a fake backend seeded with DemoAccounts.
func New(opts ...Option) *API {
	a := &API{
		accounts:   make(map[string]Account),
		byID:       make(map[string]Account),
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
	for _, acct := range DemoAccounts() {
		a.addAccount(acct)
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.logger = a.logger.With("component", "fakeapi")
	a.access = newGrantStore(a.now)
	a.refresh = newGrantStore(a.now)
	a.challenges = newGrantStore(a.now)
	a.limiter = newLoginRateLimiter(a.now)
	return a
}

func (a *API) addAccount(acct Account) {
	a.accounts[strings.ToLower(acct.User.Email)] = acct
	a.byID[acct.User.ID] = acct
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", a.Login)
		r.Post("/verify-2fa", a.VerifyTwoFactor)
		r.Post("/refresh", a.Refresh)
		r.Post("/logout", a.Logout)
		r.With(a.AuthMiddleware).Get("/me", a.Me)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Get("/api/collections", a.ListCollections)
		r.Post("/api/echo", a.Echo)
		r.With(RequireRole(session.RoleAdmin, session.RoleSuperAdmin)).Get("/api/admin/stats", a.AdminStats)
	})

	return r
}

// ExpireAccessTokens invalidates every issued access token, so the next
// protected call gets a 401.
func (a *API) ExpireAccessTokens() {
	a.access.expireAll()
}

// RevokeRefreshTokens invalidates every refresh cookie.
func (a *API) RevokeRefreshTokens() {
	a.refresh.expireAll()
}

// FailRefresh makes the refresh endpoint answer with status. Zero restores
// normal behavior.
func (a *API) FailRefresh(status int) {
	a.mu.Lock()
	a.refreshStatus = status
	a.mu.Unlock()
}

// DelayRefresh makes the refresh endpoint wait d before answering.
func (a *API) DelayRefresh(d time.Duration) {
	a.mu.Lock()
	a.refreshDelay = d
	a.mu.Unlock()
}

func (a *API) LoginCalls() int64   { return a.loginCalls.Load() }
func (a *API) RefreshCalls() int64 { return a.refreshCalls.Load() }
func (a *API) LogoutCalls() int64  { return a.logoutCalls.Load() }
