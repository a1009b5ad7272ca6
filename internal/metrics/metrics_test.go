package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/agent-shell/internal/transcript"
)

func TestMetrics_ObserverCounters(t *testing.T) {
	m := New(nil)

	m.EventDecoded(transcript.KindTextDelta)
	m.EventDecoded(transcript.KindTextDelta)
	m.EventRejected(transcript.RejectNoise)
	m.Anomaly(transcript.AnomalyOrphanResult)
	m.EntryFinalized(transcript.RoleAssistant)
	m.EntryDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsDecoded.WithLabelValues(string(transcript.KindTextDelta))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsRejected.WithLabelValues(transcript.RejectNoise)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anomalies.WithLabelValues(transcript.AnomalyOrphanResult)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entriesFinalized.WithLabelValues(string(transcript.RoleAssistant))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entriesDropped))
}

func TestMetrics_WiredIntoSession(t *testing.T) {
	m := New(nil)
	s := transcript.NewSession(transcript.DefaultOptions(), transcript.Deps{Observer: m})

	s.ProcessEvent([]byte(`{"type":"text-delta","text":"hello"}`))
	s.ProcessEvent([]byte(`not json`))
	s.ProcessEvent([]byte(`{"type":"done"}`))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsRejected.WithLabelValues(transcript.RejectMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entriesFinalized.WithLabelValues(string(transcript.RoleAssistant))))
}

func TestMetrics_HostCounters(t *testing.T) {
	m := New(nil)
	m.ViewPublished(0)
	m.ViewPublished(3)
	m.HistoryWritten(true)
	m.HistoryWritten(false)
	m.WSConnected("view", 1)
	m.WSConnected("view", 1)
	m.WSConnected("view", -1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.viewsPublished))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.viewsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsConnections.WithLabelValues("view")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.EventDecoded(transcript.KindDone)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `agent_shell_transcript_events_decoded_total{kind="done"} 1`)
}
