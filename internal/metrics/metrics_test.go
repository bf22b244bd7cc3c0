package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetOutboxPending(3)
	m.ObserveSend(OutcomeSynced)
	m.ObserveSend(OutcomeSynced)
	m.ObserveSend(OutcomeHalted)
	m.ObserveDrain(DrainHalted)
	m.ObserveRequest("POST", "/entries", 201, 10*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.outboxPending))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outboxSends.WithLabelValues(OutcomeSynced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxSends.WithLabelValues(OutcomeHalted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncDrains.WithLabelValues(DrainHalted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/entries", "201")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetOutboxPending(1)
		m.ObserveSend(OutcomeRejected)
		m.ObserveDrain(DrainSynced)
		m.ObserveRequest("GET", "/rooms/:id", 200, time.Millisecond)
	})
}
