package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := New()

	m.ObserveInvocation("http", "handled", 10*time.Millisecond)
	m.ObserveInvocation("http", "handled", 20*time.Millisecond)
	m.ObserveInvocation("unknown", "unknown", time.Millisecond)
	m.ObserveHTTPResponse(404)
	m.FilterHalted("pre")
	m.ScheduleFired("enqueue")
	m.OffloadPutFailed()
	m.Offloaded(512)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("http", "handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("unknown", "unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPResponsesTotal.WithLabelValues("404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilterHaltsTotal.WithLabelValues("pre")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduleFiredTotal.WithLabelValues("enqueue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OffloadPutErrorsTotal))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.OffloadedBytesTotal))
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveInvocation("http", "handled", time.Second)
		m.ObserveHTTPResponse(200)
		m.FilterHalted("post")
		m.ScheduleFired("direct")
		m.BackgroundTask("ok")
		m.QueueSendFailed("enqueue")
		m.OffloadPutFailed()
		m.Offloaded(1)
		m.RateLimited()
	})
}
