// Package refresh coordinates access-token refresh so that any number of
// concurrent callers share a single outbound exchange.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmcleod/ironsession/internal/metrics"
	"github.com/jmcleod/ironsession/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	tracerName = "github.com/jmcleod/ironsession/refresh"
	flightKey  = "refresh"
)

// State is the coordinator's refresh state.
type State int32

const (
	StateIdle State = iota
	StateInFlight
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Grant is the result of a successful exchange.
type Grant struct {
	AccessToken string
	// ExpiresIn is zero when the server did not say.
	ExpiresIn time.Duration
	// User is set when the server returned the principal with the token.
	User *session.User
}

// Exchanger performs the refresh call against the backend.
type Exchanger interface {
	Exchange(ctx context.Context) (*Grant, error)
}

// ExchangerFunc adapts a function to Exchanger.
type ExchangerFunc func(ctx context.Context) (*Grant, error)

func (f ExchangerFunc) Exchange(ctx context.Context) (*Grant, error) { return f(ctx) }

// Coordinator owns the single refresh flight. At most one exchange is
// outstanding at any time; callers arriving while it runs share its outcome.
// The session store is updated before any caller is released, and the
// flight is cleared before callers are released so a caller reacting to a
// failure starts a new exchange. A grant only lands on the session that was
// current when the flight started.
type Coordinator struct {
	exchanger    Exchanger
	store        *session.Store
	group        singleflight.Group
	state        atomic.Int32
	calls        atomic.Uint64
	waiting      atomic.Int32
	timeout      time.Duration
	safetyWindow time.Duration
	onFailure    func(generation uint64, err error)
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

// New returns a Coordinator that refreshes store through exchanger.
func New(exchanger Exchanger, store *session.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		exchanger:    exchanger,
		store:        store,
		timeout:      DefaultTimeout,
		safetyWindow: DefaultSafetyWindow,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.logger = c.logger.With("component", "refresh")
	return c
}

// State reports whether an exchange is currently outstanding.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Calls returns how many exchanges have been started.
func (c *Coordinator) Calls() uint64 {
	return c.calls.Load()
}

// Waiting returns how many callers are currently registered with the flight.
func (c *Coordinator) Waiting() int {
	return int(c.waiting.Load())
}

// Refresh starts an exchange, or joins the one in flight, and returns the
// new access token. The exchange is detached from ctx: a caller giving up
// returns ctx.Err() while the flight continues for everyone else.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var led atomic.Bool
	ch := c.group.DoChan(flightKey, func() (any, error) {
		led.Store(true)
		return c.run(ctx)
	})
	// DoChan has registered this caller with the flight by the time it returns.
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	select {
	case res := <-ch:
		if !led.Load() {
			c.metrics.RefreshShared()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) run(parent context.Context) (string, error) {
	c.calls.Add(1)
	c.state.Store(int32(StateInFlight))
	defer c.state.Store(int32(StateIdle))

	c.metrics.RefreshStarted()
	start := time.Now()

	gen := c.store.Generation()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "refresh.exchange")
	defer span.End()

	token, err := c.exchange(ctx, gen)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RefreshFinished(metrics.ResultFailure, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		c.logger.Warn("token refresh failed", "error", err, "duration", elapsed)
		// Runs before any caller is released, whether or not one is still waiting.
		if c.onFailure != nil {
			c.onFailure(gen, err)
		}
		return "", err
	}

	c.metrics.RefreshFinished(metrics.ResultSuccess, elapsed)
	span.SetAttributes(attribute.String("refresh.result", metrics.ResultSuccess))
	c.logger.Debug("token refreshed", "duration", elapsed)
	return token, nil
}

type exchangeResult struct {
	grant *Grant
	err   error
}

// exchange calls the Exchanger and applies its grant. It gives up when ctx
// ends even if the Exchanger ignores ctx, and a late grant is discarded.
func (c *Coordinator) exchange(ctx context.Context, gen uint64) (string, error) {
	done := make(chan exchangeResult, 1)
	go func() {
		g, err := c.exchanger.Exchange(ctx)
		done <- exchangeResult{grant: g, err: err}
	}()

	var res exchangeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ctx.Err())
	}

	if res.err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, res.err)
	}
	if res.grant == nil || res.grant.AccessToken == "" {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrEmptyToken)
	}
	if err := c.apply(gen, res.grant); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return res.grant.AccessToken, nil
}

// apply writes the grant to the session of generation gen. A session that
// was ended or replaced meanwhile is left as it is and the grant is dropped.
func (c *Coordinator) apply(gen uint64, g *Grant) error {
	err := c.store.RefreshSession(gen, g.User, g.AccessToken, session.WithExpiresIn(g.ExpiresIn))
	if errors.Is(err, session.ErrPersist) {
		// The in-memory session is current; a later transition will retry the write.
		c.logger.Warn("refreshed session not persisted", "error", err)
		return nil
	}
	return err
}

// EnsureFresh returns a token that is valid for longer than the safety
// window, refreshing first when needed.
func (c *Coordinator) EnsureFresh(ctx context.Context) (string, error) {
	token, ok := c.store.AccessToken()
	if !ok {
		return "", ErrNoSession
	}
	if !c.store.ExpiresWithin(c.safetyWindow) {
		return token, nil
	}
	return c.Refresh(ctx)
}
