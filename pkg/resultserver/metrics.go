package resultserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the result server. A nil
// *Metrics is valid and turns every recording method into a no-op, so the
// server can run without a registry in tests.
type Metrics struct {
	connections    *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	activeSessions prometheus.Gauge
	uploadBytes    prometheus.Counter
	truncated      prometheus.Counter
	cancelled      prometheus.Counter
}

// NewMetrics builds and registers the result server collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandtrap",
			Subsystem: "resultserver",
			Name:      "connections_total",
			Help:      "Accepted connections by negotiated protocol.",
		}, []string{"command"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandtrap",
			Subsystem: "resultserver",
			Name:      "rejected_total",
			Help:      "Connections dropped before or during negotiation.",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sandtrap",
			Subsystem: "resultserver",
			Name:      "active_sessions",
			Help:      "Sessions currently streaming.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandtrap",
			Subsystem: "resultserver",
			Name:      "upload_bytes_total",
			Help:      "Bytes received over FILE uploads, pre-cap.",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandtrap",
			Subsystem: "resultserver",
			Name:      "truncated_uploads_total",
			Help:      "FILE uploads cut off at upload_max_size.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandtrap",
			Subsystem: "resultserver",
			Name:      "cancelled_sessions_total",
			Help:      "Sessions cancelled by task tear-down or shutdown.",
		}),
	}
	reg.MustRegister(m.connections, m.rejected, m.activeSessions,
		m.uploadBytes, m.truncated, m.cancelled)
	return m
}

func (m *Metrics) IncConnection(command string) {
	if m != nil {
		m.connections.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) IncRejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionEnded() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) AddUploadBytes(n int64) {
	if m != nil && n > 0 {
		m.uploadBytes.Add(float64(n))
	}
}

func (m *Metrics) IncTruncated() {
	if m != nil {
		m.truncated.Inc()
	}
}

func (m *Metrics) IncCancelled() {
	if m != nil {
		m.cancelled.Inc()
	}
}
