// Package metrics instruments the replica with Prometheus collectors.
//
// A Metrics value implements both replica.Observer and
// optimistic.Observer; pass it to engine.WithObserver and
// optimistic.WithObserver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/replica"
)

// Namespace prefixes every metric name.
const Namespace = "replica"

// Result label values for remote calls.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the replica collectors.
type Metrics struct {
	changes       *prometheus.CounterVec
	records       prometheus.Gauge
	compensations *prometheus.CounterVec
	remoteCalls   *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
}

// New registers the collectors with reg. Registering twice with the same
// registry panics, as promauto does.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "changes_total",
			Help:      "Broadcast changes by action and source.",
		}, []string{"action", "source"}),
		records: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "records",
			Help:      "Records currently held by the replica.",
		}),
		compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "compensations_total",
			Help:      "Optimistic writes reverted after their remote call failed.",
		}, []string{"operation"}),
		remoteCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "remote_calls_total",
			Help:      "Remote calls issued by optimistic mutations by result.",
		}, []string{"operation", "result"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of remote calls issued by optimistic mutations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation"}),
	}
}

// ObserveChange implements replica.Observer.
func (m *Metrics) ObserveChange(change replica.Change, size int) {
	m.changes.WithLabelValues(string(change.Action), change.Source.String()).Inc()
	m.records.Set(float64(size))
}

// ObserveRemoteCall implements optimistic.Observer.
func (m *Metrics) ObserveRemoteCall(op collection.Operation, err error, elapsed time.Duration) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.remoteCalls.WithLabelValues(string(op), result).Inc()
	m.callDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// ObserveCompensation implements optimistic.Observer.
func (m *Metrics) ObserveCompensation(op collection.Operation) {
	m.compensations.WithLabelValues(string(op)).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
