package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCompletion(t *testing.T) {
	m := NewMetrics()

	m.ObserveCompletion(0.2, "")
	m.ObserveCompletion(1.5, "timeout_error")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CompletionRequests.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CompletionRequests.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("timeout_error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CompletionDuration))
}

func TestObserveDelivery(t *testing.T) {
	m := NewMetrics()

	m.ObserveDelivery(0.1, "upstream_status_error")

	assert.Equal(t, float64(0), testutil.ToFloat64(m.DeliveryRequests.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeliveryRequests.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("upstream_status_error")))
}

func TestCounters(t *testing.T) {
	m := NewMetrics()

	m.CountEvent("relayed")
	m.CountEvent("echo")
	m.CountEvent("echo")
	m.CountVerification(true)
	m.CountVerification(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookEvents.WithLabelValues("relayed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WebhookEvents.WithLabelValues("echo")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Verifications.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Verifications.WithLabelValues("failure")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCompletion(1, "")
		m.ObserveDelivery(1, "x")
		m.CountEvent("relayed")
		m.CountVerification(true)
	})
}

func TestHandlerExposesRelayMetrics(t *testing.T) {
	m := NewMetrics()
	m.CountEvent("relayed")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relay_webhook_events_total")
	assert.Contains(t, string(body), "relay_completion_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
