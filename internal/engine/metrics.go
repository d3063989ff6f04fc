package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "nodeledger"
	subsystem = "engine"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	events   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	bumps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
// Panics if a collector with the same name is already registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_total",
				Help:      "Events applied, by resource type and outcome",
			},
			[]string{"resource_type", "outcome"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Events rejected, by resource type and error code",
			},
			[]string{"resource_type", "code"},
		),
		bumps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "timestamp_bumps_total",
				Help:      "Events recorded later than requested because of a timestamp collision",
			},
			[]string{"resource_type"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoke_duration_seconds",
				Help:      "Time spent in Invoke, including the ledger transaction",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"resource_type"},
		),
	}
}

func (m *Metrics) observe(resourceType string, res Result, err error, seconds float64) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(resourceType).Observe(seconds)
	if err != nil {
		code := string(CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
		m.errors.WithLabelValues(resourceType, code).Inc()
		return
	}
	m.events.WithLabelValues(resourceType, res.Outcome.String()).Inc()
	if res.Bumped() {
		m.bumps.WithLabelValues(resourceType).Inc()
	}
}
