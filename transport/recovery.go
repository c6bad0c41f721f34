package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/ironsession/internal/metrics"
)

// Refresher obtains a new access token, sharing one exchange among
// concurrent callers.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Recovery is the inbound 401 hook. A 401 on a request that is not already
// a replay, not opted out and not an excluded endpoint waits for the shared
// refresh and replays the request once with the new token. When the
// refresh fails the original 401 is returned unchanged.
type Recovery struct {
	refresher Refresher
	endpoints *Endpoints
	onFailure func(error)
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

var _ RecoveryStage = (*Recovery)(nil)

// RecoveryOption configures a Recovery.
type RecoveryOption func(*Recovery)

// WithEndpoints replaces the excluded endpoint matcher.
func WithEndpoints(e *Endpoints) RecoveryOption {
	return func(r *Recovery) {
		if e != nil {
			r.endpoints = e
		}
	}
}

// OnRefreshFailure is called for each request whose refresh failed. It is
// not called when the caller's own context ended first, so session teardown
// belongs in refresh.OnFailure instead.
func OnRefreshFailure(fn func(error)) RecoveryOption {
	return func(r *Recovery) { r.onFailure = fn }
}

func WithRecoveryLogger(logger *slog.Logger) RecoveryOption {
	return func(r *Recovery) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRecoveryMetrics(m *metrics.Metrics) RecoveryOption {
	return func(r *Recovery) { r.metrics = m }
}

// NewRecovery returns a Recovery using the default excluded endpoints.
func NewRecovery(refresher Refresher, opts ...RecoveryOption) *Recovery {
	r := &Recovery{
		refresher: refresher,
		endpoints: NewEndpoints(DefaultExcludedEndpoints...),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "transport")
	return r
}

func (r *Recovery) Recover(req *http.Request, resp *http.Response, replay Replay) (*http.Response, error) {
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	ctx := req.Context()
	switch {
	case IsRetried(ctx):
		r.metrics.Recovery(metrics.RecoverySkipRetried)
		return resp, nil
	case SkipsAuthRefresh(ctx):
		r.metrics.Recovery(metrics.RecoverySkipOptOut)
		return resp, nil
	case r.endpoints.Excluded(req.URL):
		r.metrics.Recovery(metrics.RecoverySkipExcluded)
		return resp, nil
	}

	token, err := r.refresher.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.metrics.Recovery(metrics.RecoveryAborted)
			return resp, nil
		}
		r.metrics.Recovery(metrics.RecoveryRefreshFailed)
		r.logger.Warn("refresh after 401 failed",
			"method", req.Method,
			"path", req.URL.Path,
			"error", err,
		)
		if r.onFailure != nil {
			r.onFailure(err)
		}
		return resp, nil
	}

	next := req.Clone(withReplayToken(withRetried(ctx), token))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		next.Body = body
	}

	drainAndClose(resp)
	r.metrics.Recovery(metrics.RecoveryReplayed)
	r.logger.Debug("replaying request after refresh", "method", req.Method, "path", req.URL.Path)

	out, err := replay(next)
	if err != nil {
		return nil, fmt.Errorf("replaying %s %s: %w", req.Method, req.URL.Path, err)
	}
	return out, nil
}

func drainAndClose(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
