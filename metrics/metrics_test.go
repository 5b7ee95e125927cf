package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.CallAttempt("outbound", "accepted")
	m.CallAttempt("outbound", "accepted")
	m.CallAttempt("inbound", "busy:ACTIVE")
	m.CallEnded("LocalHangup", 3*time.Second)
	m.SetActiveCalls(1)
	m.FrameSent(1024)
	m.FrameReceived(1024)
	m.FrameReceived(512)
	m.StrayDatagram()
	m.ChatMessage(true)
	m.ChatMessage(false)
	m.ChatSession("accepted")
	m.VoiceMessageReceived(false, 100)
	m.ConnectionRefused("chat")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.callAttempts.WithLabelValues("outbound", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callAttempts.WithLabelValues("inbound", "busy:ACTIVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsEnded.WithLabelValues("LocalHangup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeCalls))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesReceived))
	assert.Equal(t, 1536.0, testutil.ToFloat64(m.bytesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.strayDatagrams))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatMessages.WithLabelValues("outbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.voiceMessages.WithLabelValues("false")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.voiceBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("chat", "refused")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CallAttempt("outbound", "failed")
		m.CallEnded("Shutdown", time.Second)
		m.SetActiveCalls(0)
		m.FrameSent(1)
		m.FrameReceived(1)
		m.StrayDatagram()
		m.ChatMessage(true)
		m.ChatSession("busy")
		m.VoiceMessageReceived(true, 1)
		m.ConnectionAccepted("call")
		m.ConnectionRefused("call")
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.FrameSent(1024)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lanphone_audio_frames_sent_total 1"))
}
