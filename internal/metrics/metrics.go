// Package metrics defines the Prometheus collectors for the client sync
// pipeline and the reference server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Send outcomes for a single outbox request.
const (
	OutcomeSynced   = "synced"
	OutcomeRejected = "rejected"
	OutcomeHalted   = "halted"
)

// Drain results.
const (
	DrainSynced = "synced"
	DrainIdle   = "idle"
	DrainHalted = "halted"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	outboxPending   prometheus.Gauge
	outboxSends     *prometheus.CounterVec
	syncDrains      *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kettle",
			Name:      "outbox_pending",
			Help:      "Requests waiting in the device outbox.",
		}),
		outboxSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kettle",
			Name:      "outbox_sends_total",
			Help:      "Outbox send attempts by outcome.",
		}, []string{"outcome"}),
		syncDrains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kettle",
			Name:      "sync_drains_total",
			Help:      "Outbox drains by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kettle",
			Name:      "http_requests_total",
			Help:      "Server requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kettle",
			Name:      "http_request_duration_seconds",
			Help:      "Server request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.outboxPending, m.outboxSends, m.syncDrains, m.httpRequests, m.httpRequestTime)
	return m
}

// SetOutboxPending records the current outbox depth.
func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(n))
}

// ObserveSend counts one outbox send attempt.
func (m *Metrics) ObserveSend(outcome string) {
	if m == nil {
		return
	}
	m.outboxSends.WithLabelValues(outcome).Inc()
}

// ObserveDrain counts one drain pass.
func (m *Metrics) ObserveDrain(result string) {
	if m == nil {
		return
	}
	m.syncDrains.WithLabelValues(result).Inc()
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestTime.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
