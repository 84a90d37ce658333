// Package metrics holds the Prometheus collectors for the account session layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty" // non-2xx or non-JSON response
	OutcomeError = "error" // transport failure
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	grants        *prometheus.CounterVec
	mutations     *prometheus.CounterVec
}

// New builds the collectors and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	const (
		namespace = "kcsession"
		subsystem = "account"
	)

	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetches_total",
			Help:      "Account resource fetches by resource and outcome",
		}, []string{"resource", "outcome"}),

		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_duration_seconds",
			Help:      "Histogram of account resource fetch latency",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 4, 8),
		}, []string{"resource"}),

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orchestrations_total",
			Help:      "Fan-out runs by result (complete, partial, cancelled, redirect, failed)",
		}, []string{"result"}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_lookups_total",
			Help:      "Session cache lookups by kind and result",
		}, []string{"kind", "result"}),

		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "token_grants_total",
			Help:      "Token broker outcomes by state",
		}, []string{"state"}),

		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mutations_total",
			Help:      "Profile saves and credential deletions by operation and result",
		}, []string{"operation", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.PrometheusCollectors()...)
	}
	return m
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.fetches,
		m.fetchDuration,
		m.runs,
		m.cacheLookups,
		m.grants,
		m.mutations,
	}
}

func (m *Metrics) Fetch(resource, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(resource, outcome).Inc()
	m.fetchDuration.WithLabelValues(resource).Observe(d.Seconds())
}

func (m *Metrics) Run(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Grant(state string) {
	if m == nil {
		return
	}
	m.grants.WithLabelValues(state).Inc()
}

func (m *Metrics) Mutation(operation string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.mutations.WithLabelValues(operation, result).Inc()
}
