package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()
	m.ObserveMessage("text")
	m.ObserveMessage("text")
	m.ObserveMessage("start")
	m.ObserveGeneration("ok", 300*time.Millisecond)
	m.ObserveGeneration("quota", time.Second)
	m.ObserveSendFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("quota")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailuresTotal))

	done := m.HandlerStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlersInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HandlersInFlight))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveMessage("text")
	m.ObserveGeneration("ok", time.Second)
	m.ObservePollFailure()
	m.HandlerStarted()()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveMessage("ping")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `relaybot_messages_total{route="ping"} 1`)
}
