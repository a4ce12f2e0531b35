// Package metrics holds the Prometheus instruments of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// cache lookup results
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultStale = "stale"
)

// Metrics instruments shared by the orchestrator and the sources.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheLookups      *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec
	UpstreamFailures  *prometheus.CounterVec
	ComputeAnomalies  prometheus.Counter
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultpnl_cache_lookups_total",
				Help: "Cache lookups by namespace and result (hit, miss, stale)",
			},
			[]string{"namespace", "result"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultpnl_reconcile_duration_seconds",
				Help:    "Duration of a reconciliation in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"variant", "result"},
		),
		UpstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultpnl_upstream_failures_total",
				Help: "Failed collaborator reads by source",
			},
			[]string{"source"},
		),
		ComputeAnomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultpnl_compute_anomalies_total",
				Help: "Snapshots computed with a negative deposited amount",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.CacheLookups, m.ReconcileDuration, m.UpstreamFailures, m.ComputeAnomalies)
	}

	return m
}

// CacheLookup counts one lookup.
func (m *Metrics) CacheLookup(namespace, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(namespace, result).Inc()
}

// ObserveReconcile records the duration of one reconciliation.
func (m *Metrics) ObserveReconcile(variant string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ReconcileDuration.WithLabelValues(variant, result).Observe(time.Since(started).Seconds())
}

// UpstreamFailure counts a failed collaborator read.
func (m *Metrics) UpstreamFailure(source string) {
	if m == nil {
		return
	}
	m.UpstreamFailures.WithLabelValues(source).Inc()
}

// ComputeAnomaly counts a snapshot failing its invariant check.
func (m *Metrics) ComputeAnomaly() {
	if m == nil {
		return
	}
	m.ComputeAnomalies.Inc()
}
