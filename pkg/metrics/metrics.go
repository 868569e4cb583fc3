// Package metrics holds the Prometheus collectors for query execution,
// compiled-query cache lookups and transaction scope outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors registered on one registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// QueriesTotal counts executed statements by kind (read, write, raw) and
	// status (ok, error).
	QueriesTotal *prometheus.CounterVec
	// QueryDuration is the protocol round-trip latency.
	QueryDuration *prometheus.HistogramVec
	// CacheLookups counts compiled-query cache lookups by result (hit, miss).
	CacheLookups *prometheus.CounterVec
	// ScopesTotal counts resolved transaction scopes by scope and state.
	ScopesTotal *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluentcypher_queries_total",
				Help: "Total number of executed statements",
			},
			[]string{"kind", "status"},
		),
		QueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluentcypher_query_duration_seconds",
				Help:    "Statement round-trip latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluentcypher_query_cache_lookups_total",
				Help: "Compiled query cache lookups",
			},
			[]string{"result"},
		),
		ScopesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluentcypher_tx_scopes_total",
				Help: "Resolved transaction scopes",
			},
			[]string{"scope", "state"},
		),
	}
}

// ObserveQuery records one statement execution.
func (m *Metrics) ObserveQuery(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.QueriesTotal.WithLabelValues(kind, status).Inc()
	m.QueryDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveScope records a resolved scope.
func (m *Metrics) ObserveScope(scope, state string) {
	if m == nil {
		return
	}
	m.ScopesTotal.WithLabelValues(scope, state).Inc()
}
