// Package client talks to the backend's auth and protected endpoints. It
// wires the session store, credential source, refresh coordinator and
// request pipeline into one http.Client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/ironsession/credential"
	"github.com/jmcleod/ironsession/internal/metrics"
	"github.com/jmcleod/ironsession/refresh"
	"github.com/jmcleod/ironsession/session"
	"github.com/jmcleod/ironsession/transport"
	"golang.org/x/net/publicsuffix"
)

// Backend endpoints.
const (
	PathLogin     = "/api/auth/login"
	PathVerify2FA = "/api/auth/verify-2fa"
	PathRefresh   = "/api/auth/refresh"
	PathLogout    = "/api/auth/logout"
	PathMe        = "/api/auth/me"
)

// Client is the backend API client. It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	store          *session.Store
	source         *credential.Source
	ownsSource     bool
	coord          *refresh.Coordinator
	httpClient     *http.Client
	jar            *PersistentJar
	cookieStore    CookieStore
	baseTransport  http.RoundTripper
	httpTimeout    time.Duration
	refreshTimeout time.Duration
	safetyWindow   time.Duration
	excluded       []string
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

var _ refresh.Exchanger = (*Client)(nil)

// New assembles a Client for baseURL on top of store.
func New(baseURL string, store *session.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("client requires a session store")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be an absolute http(s) url", baseURL)
	}

	c := &Client{
		baseURL:        u,
		store:          store,
		httpTimeout:    DefaultTimeout,
		refreshTimeout: refresh.DefaultTimeout,
		safetyWindow:   refresh.DefaultSafetyWindow,
		excluded:       transport.DefaultExcludedEndpoints,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client")

	if c.source == nil {
		c.source = credential.NewSource()
		c.ownsSource = true
	}
	store.AddCredentialSink(c.source)

	var jar http.CookieJar
	if c.cookieStore != nil {
		c.jar, err = NewPersistentJar(u, c.cookieStore, c.logger)
		if err != nil {
			return nil, err
		}
		jar = c.jar
	} else {
		jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
	}

	c.coord = refresh.New(c, store,
		refresh.WithTimeout(c.refreshTimeout),
		refresh.WithSafetyWindow(c.safetyWindow),
		refresh.WithLogger(c.logger),
		refresh.WithMetrics(c.metrics),
		refresh.OnFailure(c.onRefreshFailure),
	)
	recovery := transport.NewRecovery(c.coord,
		transport.WithEndpoints(transport.NewEndpoints(c.excluded...)),
		transport.WithRecoveryLogger(c.logger),
		transport.WithRecoveryMetrics(c.metrics),
	)
	pipeline := transport.New(c.baseTransport,
		transport.WithRequestStages(transport.NewBearerStage(c.source), transport.RequestIDStage{}),
		transport.WithRecoveryStages(recovery),
	)
	c.httpClient = &http.Client{
		Transport: pipeline,
		Timeout:   c.httpTimeout,
		Jar:       jar,
	}
	return c, nil
}

// onRefreshFailure makes a failed refresh fatal to the session it was
// started for. A session replaced by a newer login survives.
func (c *Client) onRefreshFailure(gen uint64, err error) {
	ended, rerr := c.store.EndSession(gen)
	if rerr != nil {
		c.logger.Warn("resetting session", "error", rerr)
	}
	if ended {
		c.logger.Warn("session ended after failed refresh", "error", err)
	}
}

// HTTPClient returns the client whose transport runs the pipeline.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

func (c *Client) Coordinator() *refresh.Coordinator { return c.coord }

func (c *Client) Store() *session.Store { return c.store }

// Close wipes the credential source when the client created it.
func (c *Client) Close() {
	if c.ownsSource {
		c.source.Destroy()
	}
}

// LoginResult is the outcome of Login or VerifyTwoFactor.
type LoginResult struct {
	// TwoFactorRequired means the session was not established; call
	// VerifyTwoFactor with TwoFactorToken and the user's code.
	TwoFactorRequired bool
	TwoFactorToken    string
	User              *session.User
}

type authResponse struct {
	TwoFactorRequired bool          `json:"twofa_required"`
	TwoFactorToken    string        `json:"twofa_token,omitempty"`
	AccessToken       string        `json:"access_token,omitempty"`
	ExpiresIn         int64         `json:"expires_in,omitempty"`
	User              *session.User `json:"user,omitempty"`
}

// Login authenticates with email and password. When the account has two
// factor authentication enabled the session is left untouched and the
// challenge token is returned instead.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.SendJSON(ctx, http.MethodPost, PathLogin, body, &resp); err != nil {
		return nil, err
	}
	if resp.TwoFactorRequired {
		if resp.TwoFactorToken == "" {
			return nil, fmt.Errorf("%w: two factor challenge without token", ErrMalformedResponse)
		}
		return &LoginResult{TwoFactorRequired: true, TwoFactorToken: resp.TwoFactorToken}, nil
	}
	return c.establish(resp)
}

// VerifyTwoFactor completes a login that returned a two factor challenge.
func (c *Client) VerifyTwoFactor(ctx context.Context, twoFactorToken, code string) (*LoginResult, error) {
	var resp authResponse
	body := map[string]string{"twofa_token": twoFactorToken, "code": code}
	if err := c.SendJSON(ctx, http.MethodPost, PathVerify2FA, body, &resp); err != nil {
		return nil, err
	}
	return c.establish(resp)
}

// establish installs the session from an auth response. When only the
// write to storage failed the session is in place and the result is
// returned together with an error wrapping session.ErrPersist.
func (c *Client) establish(resp authResponse) (*LoginResult, error) {
	if resp.AccessToken == "" || resp.User == nil {
		return nil, fmt.Errorf("%w: missing access token or user", ErrMalformedResponse)
	}
	err := c.store.SetSession(*resp.User, resp.AccessToken,
		session.WithRefreshMarker(session.CookieMarker),
		session.WithExpiresIn(time.Duration(resp.ExpiresIn)*time.Second),
	)
	if err != nil && !errors.Is(err, session.ErrPersist) {
		return nil, err
	}
	u := *resp.User
	return &LoginResult{User: &u}, err
}

// Exchange trades the refresh cookie for a new access token. It opts out of
// 401 recovery so a rejected refresh never triggers another one.
func (c *Client) Exchange(ctx context.Context) (*refresh.Grant, error) {
	var resp authResponse
	if err := c.SendJSON(transport.WithoutAuthRefresh(ctx), http.MethodPost, PathRefresh, nil, &resp); err != nil {
		return nil, err
	}
	return &refresh.Grant{
		AccessToken: resp.AccessToken,
		ExpiresIn:   time.Duration(resp.ExpiresIn) * time.Second,
		User:        resp.User,
	}, nil
}

// Logout asks the server to end the session, then clears it locally. The
// server call is best effort and never prevents the local reset.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.SendJSON(transport.WithoutAuthRefresh(ctx), http.MethodPost, PathLogout, nil, nil); err != nil {
		c.logger.Warn("server logout failed", "error", err)
	}
	if c.jar != nil {
		c.jar.Clear()
	}
	return c.store.Reset()
}

// Me fetches the signed-in user from the backend.
func (c *Client) Me(ctx context.Context) (*session.User, error) {
	var resp struct {
		User *session.User `json:"user"`
	}
	if err := c.GetJSON(ctx, PathMe, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, fmt.Errorf("%w: no user in response", ErrMalformedResponse)
	}
	return resp.User, nil
}

// GetJSON performs a protected GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.SendJSON(ctx, http.MethodGet, path, nil, out)
}

// SendJSON performs a protected call with an optional JSON body and decodes
// a 2xx response into out when out is non-nil.
func (c *Client) SendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// NewRequest builds a request for path relative to the base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parsing path: %w", err)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// Do sends req through the pipeline. Non-2xx responses are closed and
// returned as *StatusError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, newStatusError(resp, body)
	}
	return resp, nil
}
