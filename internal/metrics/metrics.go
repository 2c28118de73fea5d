// Package metrics holds the Prometheus collectors reported by the relay.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qrelay"

// Delivery results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Rejection reasons.
const (
	ReasonRateLimited = "rate_limited"
	ReasonQueueFull   = "queue_full"
	ReasonStopped     = "stopped"
	ReasonOffTopic    = "off_topic"
	ReasonClassifier  = "classifier_error"
)

// Metrics exposes relay activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	flushes      prometheus.Counter
	deliveries   *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	inflight     prometheus.Gauge
	historyUsers prometheus.Gauge
}

// MustNewMetrics creates the collectors and registers them with reg. Any
// registration error panics, as promauto does.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by final outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Wall time of an agent run from launch to final state.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120, 300},
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_flushes_total",
			Help:      "Batches of agent output flushed to the chat.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Reply deliveries by result.",
		}, []string{"result"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Inbound messages that did not start an agent run.",
		}, []string{"reason"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_inflight",
			Help:      "Agent runs currently executing.",
		}),
		historyUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_users",
			Help:      "Users with conversation history in memory.",
		}),
	}

	reg.MustRegister(m.runs, m.runDuration, m.flushes, m.deliveries, m.rejected, m.inflight, m.historyUsers)
	return m
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// IncFlush counts a flushed batch.
func (m *Metrics) IncFlush() {
	if m == nil {
		return
	}
	m.flushes.Inc()
}

// ObserveDelivery counts a delivery attempt.
func (m *Metrics) ObserveDelivery(err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// IncRejected counts a message that was turned away.
func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// IncInflight marks a run as started.
func (m *Metrics) IncInflight() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// DecInflight marks a run as finished.
func (m *Metrics) DecInflight() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// SetHistoryUsers reports the number of users with history.
func (m *Metrics) SetHistoryUsers(n int) {
	if m == nil {
		return
	}
	m.historyUsers.Set(float64(n))
}
