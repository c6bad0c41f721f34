// Package metrics defines the Prometheus collectors for token refresh and
// 401 recovery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ironsession"

// Refresh results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recovery outcomes recorded for every 401 the pipeline sees.
const (
	RecoveryReplayed      = "replayed"
	RecoveryRefreshFailed = "refresh_failed"
	RecoveryAborted       = "aborted"
	RecoverySkipRetried   = "skipped_retried"
	RecoverySkipOptOut    = "skipped_opt_out"
	RecoverySkipExcluded  = "skipped_excluded"
)

// Metrics holds all Prometheus metrics for ironsession.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	RefreshInFlight prometheus.Gauge
	RefreshJoined   prometheus.Counter
	RecoveryTotal   *prometheus.CounterVec
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RefreshTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Token refresh exchanges by result",
			},
			[]string{"result"},
		),
		RefreshDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of token refresh exchanges",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RefreshInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "refresh_in_flight",
				Help:      "1 while a refresh exchange is outstanding",
			},
		),
		RefreshJoined: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_joined_total",
				Help:      "Callers that joined a refresh already in flight",
			},
		),
		RecoveryTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_total",
				Help:      "Unauthorized responses seen by the pipeline, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) RefreshStarted() {
	if m == nil {
		return
	}
	m.RefreshInFlight.Set(1)
}

func (m *Metrics) RefreshFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshInFlight.Set(0)
	m.RefreshTotal.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

func (m *Metrics) RefreshShared() {
	if m == nil {
		return
	}
	m.RefreshJoined.Inc()
}

func (m *Metrics) Recovery(outcome string) {
	if m == nil {
		return
	}
	m.RecoveryTotal.WithLabelValues(outcome).Inc()
}
