package fakeapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/ironsession/session"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyTwoFactorRequest is the body of POST /api/auth/verify-2fa.
type VerifyTwoFactorRequest struct {
	TwoFactorToken string `json:"twofa_token"`
	Code           string `json:"code"`
}

// TokenResponse is returned by login, verify-2fa and refresh.
type TokenResponse struct {
	TwoFactorRequired bool          `json:"twofa_required"`
	TwoFactorToken    string        `json:"twofa_token,omitempty"`
	AccessToken       string        `json:"access_token,omitempty"`
	TokenType         string        `json:"token_type,omitempty"`
	ExpiresIn         int64         `json:"expires_in,omitempty"`
	User              *session.User `json:"user,omitempty"`
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	a.loginCalls.Add(1)

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if blocked, retryAfter := a.limiter.check(req.Email); blocked {
		a.logger.Warn("login rate limited", "email", req.Email)
		writeRateLimited(w, retryAfter)
		return
	}

	acct, ok := a.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
	if !ok || acct.Password != req.Password {
		a.limiter.recordFailure(req.Email)
		a.logger.Info("login failed", "email", req.Email)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	a.limiter.recordSuccess(req.Email)

	if acct.TOTPSecret != "" {
		challenge, err := a.challenges.issue(acct.User.ID, challengeTTL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "issuing challenge")
			return
		}
		a.logger.Info("two factor challenge issued", "user_id", acct.User.ID)
		writeJSON(w, http.StatusOK, TokenResponse{TwoFactorRequired: true, TwoFactorToken: challenge})
		return
	}

	a.issueSession(w, acct, true)
}

func (a *API) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifyTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	g, ok := a.challenges.get(req.TwoFactorToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired two factor token")
		return
	}
	acct := a.byID[g.UserID]
	if !verifyTOTPCode(acct.TOTPSecret, req.Code, a.now()) {
		writeError(w, http.StatusUnauthorized, "invalid two factor code")
		return
	}
	a.challenges.delete(req.TwoFactorToken)
	a.issueSession(w, acct, true)
}

// Refresh trades the refresh cookie for a new access token. The cookie is
// rotated on every use, so a second concurrent refresh with the same
// cookie fails.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	a.refreshCalls.Add(1)

	a.mu.Lock()
	status, delay := a.refreshStatus, a.refreshDelay
	a.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeError(w, status, "refresh unavailable")
		return
	}

	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	g, ok := a.refresh.take(cookie.Value)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	acct, ok := a.byID[g.UserID]
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	a.issueSession(w, acct, false)
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	a.logoutCalls.Add(1)
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		a.refresh.delete(cookie.Value)
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		a.access.delete(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]session.User{"user": u})
}

// Collection is a demo protected resource.
type Collection struct {
	ID     string `json:"id"`
	Ward   string `json:"ward"`
	Status string `json:"status"`
}

func (a *API) ListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]Collection{
		"items": {
			{ID: "c-1", Ward: "north", Status: "collected"},
			{ID: "c-2", Ward: "south", Status: "pending"},
		},
	})
}

// Echo returns the request body so callers can check replays re-send it.
func (a *API) Echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) AdminStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"accounts": len(a.byID),
	})
}

// issueSession writes a new access token and rotates the refresh cookie.
func (a *API) issueSession(w http.ResponseWriter, acct Account, withUser bool) {
	access, err := a.access.issue(acct.User.ID, a.accessTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issuing access token")
		return
	}
	refresh, err := a.refresh.issue(acct.User.ID, a.refreshTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issuing refresh token")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refresh,
		Path:     "/api/auth",
		MaxAge:   int(a.refreshTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	resp := TokenResponse{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int64(a.accessTTL.Seconds()),
	}
	if withUser {
		u := acct.User
		resp.User = &u
	}
	a.logger.Info("session issued", "user_id", acct.User.ID, "refresh", !withUser)
	writeJSON(w, http.StatusOK, resp)
}
