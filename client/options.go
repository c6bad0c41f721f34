package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/ironsession/credential"
	"github.com/jmcleod/ironsession/internal/metrics"
)

// DefaultTimeout applies to every call, including the refresh exchange.
const DefaultTimeout = 15 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithHTTPTimeout bounds each call made through the client.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// WithBaseTransport sets the transport under the pipeline.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.baseTransport = rt }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithExcludedEndpoints replaces the paths whose 401s never trigger a refresh.
func WithExcludedEndpoints(paths ...string) Option {
	return func(c *Client) { c.excluded = append([]string(nil), paths...) }
}

// WithCookieStore persists the backend's cookies, including the refresh
// cookie, across process restarts.
func WithCookieStore(store CookieStore) Option {
	return func(c *Client) { c.cookieStore = store }
}

// WithCredentialSource shares an existing credential source. The client
// does not destroy a source it did not create.
func WithCredentialSource(src *credential.Source) Option {
	return func(c *Client) { c.source = src }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

func WithSafetyWindow(d time.Duration) Option {
	return func(c *Client) { c.safetyWindow = d }
}
