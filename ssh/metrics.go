package ssh

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus instrumentation for a Client. A nil *Metrics
// is valid everywhere it's used (every method below guards against it), so
// embedding callers that don't run a Prometheus registry pay nothing.
//
// The counters below instrument accounting this core already performs
// for protocol reasons (rekey triggers, channel flow control), so wiring
// them is free.
type Metrics struct {
	RekeysTotal      prometheus.Counter
	DisconnectsTotal *prometheus.CounterVec
	BytesSent        prometheus.Counter
	BytesRecvd       prometheus.Counter
	ChannelWindow    *prometheus.GaugeVec
}

// NewMetrics registers a fresh set of collectors on reg. Pass nil to get a
// Metrics whose collectors are registered nowhere, so nothing is exported
// (useful for tests that don't want to share a default registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RekeysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssh_client_rekeys_total",
			Help: "Number of key exchanges completed on this connection, including the initial one.",
		}),
		DisconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssh_client_disconnects_total",
			Help: "Disconnects observed, labeled by RFC 4253 reason code.",
		}, []string{"reason"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssh_client_bytes_sent_total",
			Help: "Cumulative ciphertext octets sent, including framing.",
		}),
		BytesRecvd: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssh_client_bytes_received_total",
			Help: "Cumulative ciphertext octets received, including framing.",
		}),
		ChannelWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ssh_client_channel_window_bytes",
			Help: "Local receive window after the most recent window adjustment on any channel.",
		}, []string{"channel_type"}),
	}
	if reg != nil {
		reg.MustRegister(m.RekeysTotal, m.DisconnectsTotal, m.BytesSent, m.BytesRecvd, m.ChannelWindow)
	}
	return m
}

func (m *Metrics) rekeyDone() {
	if m == nil {
		return
	}
	m.RekeysTotal.Inc()
}

func (m *Metrics) disconnect(reason uint32) {
	if m == nil {
		return
	}
	m.DisconnectsTotal.WithLabelValues(reasonLabel(reason)).Inc()
}

func (m *Metrics) sent(n int) {
	if m == nil {
		return
	}
	m.BytesSent.Add(float64(n))
}

func (m *Metrics) recvd(n int) {
	if m == nil {
		return
	}
	m.BytesRecvd.Add(float64(n))
}

func (m *Metrics) windowGauge(channelType string, window uint32) {
	if m == nil {
		return
	}
	m.ChannelWindow.WithLabelValues(channelType).Set(float64(window))
}

func reasonLabel(reason uint32) string {
	switch reason {
	case DisconnectProtocolError:
		return "protocol_error"
	case DisconnectMACError:
		return "mac_error"
	case DisconnectKeyExchangeFailed:
		return "key_exchange_failed"
	case DisconnectByApplication:
		return "by_application"
	default:
		return "other"
	}
}
