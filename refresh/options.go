package refresh

import (
	"log/slog"
	"time"

	"github.com/jmcleod/ironsession/internal/metrics"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds one refresh exchange.
	DefaultTimeout = 15 * time.Second
	// DefaultSafetyWindow is how close to expiry EnsureFresh starts refreshing.
	DefaultSafetyWindow = 30 * time.Second
)

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithSafetyWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.safetyWindow = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// OnFailure is called once for every failed exchange, before any caller
// sees the error, with the session generation the exchange was started for.
// It runs even when every caller has already given up.
func OnFailure(fn func(generation uint64, err error)) Option {
	return func(c *Coordinator) { c.onFailure = fn }
}
