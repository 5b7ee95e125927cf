// Package metrics exposes endpoint counters as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can hold one
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lanphone"

// Metrics holds the collectors of one endpoint in a private registry.
type Metrics struct {
	registry *prometheus.Registry

	callAttempts   *prometheus.CounterVec
	callsEnded     *prometheus.CounterVec
	callDuration   prometheus.Histogram
	activeCalls    prometheus.Gauge
	framesSent     prometheus.Counter
	framesReceived prometheus.Counter
	bytesSent      prometheus.Counter
	bytesReceived  prometheus.Counter
	strayDatagrams prometheus.Counter
	chatMessages   *prometheus.CounterVec
	chatSessions   *prometheus.CounterVec
	voiceMessages  *prometheus.CounterVec
	voiceBytes     prometheus.Counter
	connections    *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		callAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_attempts_total",
			Help:      "Call setups by direction and outcome.",
		}, []string{"direction", "outcome"}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Active calls ended, by reason.",
		}, []string{"reason"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of active calls.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Calls currently active.",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "frames_sent_total",
			Help:      "Audio frames sent.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "frames_received_total",
			Help:      "Audio frames received from the call peer.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "sent_bytes_total",
			Help:      "Audio payload bytes sent.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "received_bytes_total",
			Help:      "Audio payload bytes received.",
		}),
		strayDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "stray_datagrams_total",
			Help:      "Datagrams dropped for coming from another host or being oversized.",
		}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages by direction.",
		}, []string{"direction"}),
		chatSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "sessions_total",
			Help:      "Chat session setups by outcome.",
		}, []string{"outcome"}),
		voiceMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "voice_message",
			Name:      "received_total",
			Help:      "Voice messages received, by completeness.",
		}, []string{"complete"}),
		voiceBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "voice_message",
			Name:      "received_bytes_total",
			Help:      "Voice message bytes stored.",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Signaling connections by listener and admission result.",
		}, []string{"listener", "result"}),
	}

	m.registry.MustRegister(
		m.callAttempts, m.callsEnded, m.callDuration, m.activeCalls,
		m.framesSent, m.framesReceived, m.bytesSent, m.bytesReceived, m.strayDatagrams,
		m.chatMessages, m.chatSessions,
		m.voiceMessages, m.voiceBytes,
		m.connections,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CallAttempt counts a call setup.
func (m *Metrics) CallAttempt(direction, outcome string) {
	if m == nil {
		return
	}
	m.callAttempts.WithLabelValues(direction, outcome).Inc()
}

// CallEnded counts an ended call and records its duration.
func (m *Metrics) CallEnded(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(reason).Inc()
	m.callDuration.Observe(duration.Seconds())
}

// SetActiveCalls sets the active call gauge.
func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.activeCalls.Set(float64(n))
}

// FrameSent counts an outbound audio frame.
func (m *Metrics) FrameSent(bytes int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(bytes))
}

// FrameReceived counts an inbound audio frame.
func (m *Metrics) FrameReceived(bytes int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(bytes))
}

// StrayDatagram counts a dropped datagram.
func (m *Metrics) StrayDatagram() {
	if m == nil {
		return
	}
	m.strayDatagrams.Inc()
}

// ChatMessage counts a chat message.
func (m *Metrics) ChatMessage(outbound bool) {
	if m == nil {
		return
	}
	direction := "inbound"
	if outbound {
		direction = "outbound"
	}
	m.chatMessages.WithLabelValues(direction).Inc()
}

// ChatSession counts a chat session setup.
func (m *Metrics) ChatSession(outcome string) {
	if m == nil {
		return
	}
	m.chatSessions.WithLabelValues(outcome).Inc()
}

// VoiceMessageReceived counts a stored voice message.
func (m *Metrics) VoiceMessageReceived(complete bool, bytes int64) {
	if m == nil {
		return
	}
	m.voiceMessages.WithLabelValues(strconv.FormatBool(complete)).Inc()
	m.voiceBytes.Add(float64(bytes))
}

// ConnectionAccepted counts an admitted signaling connection.
func (m *Metrics) ConnectionAccepted(listener string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(listener, "accepted").Inc()
}

// ConnectionRefused counts a connection refused at the ceiling.
func (m *Metrics) ConnectionRefused(listener string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(listener, "refused").Inc()
}
