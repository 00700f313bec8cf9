package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSend("sent", TriggerDispatch, 10*time.Millisecond)
	m.RecordSend("failed", TriggerDispatch, 10*time.Millisecond)
	m.RecordSend("sent", TriggerSendNow, time.Millisecond)
	m.RecordEmailCreated(true)
	m.RecordEmailCreated(false)
	m.RecordDispatch(4, 1, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendOutcomes.WithLabelValues("sent", TriggerDispatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendOutcomes.WithLabelValues("failed", TriggerDispatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsCreated.WithLabelValues(TriggerSendNow)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsCreated.WithLabelValues("queued")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DispatchItems.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchRuns))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSend("sent", TriggerSendNow, time.Second)
		m.RecordDispatch(1, 0, 0, 0)
		m.RecordAttachment(10)
		m.RecordPanic()
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordHTTPRequest("GET", "/emails", "200", time.Millisecond)

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailrelay_http_requests_total")
}
