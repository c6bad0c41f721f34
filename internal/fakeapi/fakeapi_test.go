package fakeapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, opts ...Option) *API {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(opts...)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) TokenResponse {
	t.Helper()
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatal("no refresh cookie set")
	return nil
}

func TestLoginIssuesTokenAndCookie(t *testing.T) {
	a := newTestAPI(t)
	h := a.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "admin@example.com", Password: "admin123"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeToken(t, rec)
	assert.False(t, resp.TwoFactorRequired)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(DefaultAccessTTL.Seconds()), resp.ExpiresIn)
	require.NotNil(t, resp.User)
	assert.Equal(t, "admin", resp.User.Role)

	c := refreshCookie(t, rec)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/api/auth", c.Path)
	assert.Equal(t, int64(1), a.LoginCalls())
}

func TestLoginRejectsBadPassword(t *testing.T) {
	h := newTestAPI(t).Router()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "admin@example.com", Password: "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"invalid credentials"}`, rec.Body.String())
}

func TestLoginLockout(t *testing.T) {
	h := newTestAPI(t).Router()
	for i := 0; i < maxFailures; i++ {
		doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "dc@jk.com", Password: "wrong"}, nil)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "dc@jk.com", Password: "dc@123"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestTwoFactorFlow(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	h := newTestAPI(t, WithClock(func() time.Time { return now })).Router()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "super@example.com", Password: "super123"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	challenge := decodeToken(t, rec)
	require.True(t, challenge.TwoFactorRequired)
	require.NotEmpty(t, challenge.TwoFactorToken)
	assert.Empty(t, challenge.AccessToken)

	rec = doJSON(t, h, http.MethodPost, "/api/auth/verify-2fa", VerifyTwoFactorRequest{TwoFactorToken: challenge.TwoFactorToken, Code: "000000"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	code, err := TOTPCode(DemoTOTPSecret, now)
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodPost, "/api/auth/verify-2fa", VerifyTwoFactorRequest{TwoFactorToken: challenge.TwoFactorToken, Code: code}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeToken(t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	require.NotNil(t, resp.User)
	assert.True(t, resp.User.TwoFactorEnabled)

	// A challenge is single use.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/verify-2fa", VerifyTwoFactorRequest{TwoFactorToken: challenge.TwoFactorToken, Code: code}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRotatesCookie(t *testing.T) {
	a := newTestAPI(t)
	h := a.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "admin@example.com", Password: "admin123"}, nil)
	first := refreshCookie(t, rec)

	withCookie := func(c *http.Cookie) func(*http.Request) {
		return func(r *http.Request) { r.AddCookie(c) }
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/refresh", nil, withCookie(first))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeToken(t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Nil(t, resp.User)
	second := refreshCookie(t, rec)
	assert.NotEqual(t, first.Value, second.Value)

	// The rotated-out cookie no longer works.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/refresh", nil, withCookie(first))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(2), a.RefreshCalls())
}

func TestRefreshControls(t *testing.T) {
	a := newTestAPI(t)
	h := a.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	a.FailRefresh(http.StatusServiceUnavailable)
	rec = doJSON(t, h, http.MethodPost, "/api/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProtectedRoutes(t *testing.T) {
	a := newTestAPI(t)
	h := a.Router()

	login := func(email, password string) string {
		rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: password}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return decodeToken(t, rec).AccessToken
	}
	bearer := func(tok string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
	}

	rec := doJSON(t, h, http.MethodGet, "/api/collections", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	collector := login("dc@jk.com", "dc@123")
	rec = doJSON(t, h, http.MethodGet, "/api/collections", nil, bearer(collector))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/admin/stats", nil, bearer(collector))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := login("admin@example.com", "admin123")
	rec = doJSON(t, h, http.MethodGet, "/api/admin/stats", nil, bearer(admin))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/auth/me", nil, bearer(admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"admin@example.com"`)

	a.ExpireAccessTokens()
	rec = doJSON(t, h, http.MethodGet, "/api/collections", nil, bearer(admin))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccessTokenExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := newTestAPI(t, WithClock(clock), WithAccessTTL(time.Minute)).Router()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "admin@example.com", Password: "admin123"}, nil)
	tok := decodeToken(t, rec).AccessToken

	now = now.Add(2 * time.Minute)
	rec = doJSON(t, h, http.MethodGet, "/api/collections", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	a := newTestAPI(t)
	h := a.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "admin@example.com", Password: "admin123"}, nil)
	c := refreshCookie(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/auth/logout", nil, func(r *http.Request) { r.AddCookie(c) })
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, refreshCookie(t, rec).MaxAge)
	assert.Equal(t, int64(1), a.LogoutCalls())

	rec = doJSON(t, h, http.MethodPost, "/api/auth/refresh", nil, func(r *http.Request) { r.AddCookie(c) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEcho(t *testing.T) {
	h := newTestAPI(t).Router()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", LoginRequest{Email: "admin@example.com", Password: "admin123"}, nil)
	tok := decodeToken(t, rec).AccessToken

	rec = doJSON(t, h, http.MethodPost, "/api/echo", map[string]int{"bin": 7}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bin":7}`, rec.Body.String())
}

func TestTOTPCodeKnownVector(t *testing.T) {
	// RFC 6238 SHA1 vector for T=59 with the ASCII secret "12345678901234567890".
	code, err := TOTPCode("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", time.Unix(59, 0))
	require.NoError(t, err)
	assert.Equal(t, "287082", code)

	assert.True(t, verifyTOTPCode("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", "287 082", time.Unix(59, 0)))
	assert.False(t, verifyTOTPCode("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", "28708", time.Unix(59, 0)))
}
