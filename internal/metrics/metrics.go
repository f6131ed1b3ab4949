// Package metrics exposes Prometheus counters for the SOCKS5 engine and the
// SSH tunnel.
//
// All Record methods are safe on a nil *Metrics, so callers that run without
// a debug listener can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sshsocks"

// Metrics holds every collector registered by NewWithRegistry.
type Metrics struct {
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	Commands       *prometheus.CounterVec
	Replies        *prometheus.CounterVec
	RelayBytes     *prometheus.CounterVec
	UDPDatagrams   prometheus.Counter
	UDPBytes       prometheus.Counter
	UDPLoopsActive prometheus.Gauge

	SentinelShutdowns prometheus.Counter

	TunnelForwards    prometheus.Counter
	TunnelKeepalives  *prometheus.CounterVec
	TunnelConnections prometheus.Gauge
}

// New registers the collectors with the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of SOCKS5 sessions currently being handled",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total SOCKS5 sessions accepted",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "SOCKS5 requests by command",
		}, []string{"command"}),
		Replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "SOCKS5 replies sent by reply code",
		}, []string{"code"}),
		RelayBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Bytes relayed by direction",
		}, []string{"direction"}),
		UDPDatagrams: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_datagrams_total",
			Help:      "Datagrams forwarded by UDP associations",
		}),
		UDPBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_bytes_total",
			Help:      "Bytes forwarded by UDP associations",
		}),
		UDPLoopsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "udp_associations_active",
			Help:      "Number of UDP forwarding loops running",
		}),
		SentinelShutdowns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentinel_shutdowns_total",
			Help:      "Shutdowns triggered by the sentinel domain",
		}),
		TunnelForwards: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_forwarded_connections_total",
			Help:      "Connections delivered through the SSH remote forward",
		}),
		TunnelKeepalives: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_keepalives_total",
			Help:      "SSH keepalive probes by result",
		}, []string{"result"}),
		TunnelConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tunnel_connections_active",
			Help:      "Forwarded connections currently piped to the local listener",
		}),
	}
}

func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) RecordSessionEnd() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordCommand counts one request; command is a name from
// socks5.CommandName.
func (m *Metrics) RecordCommand(command string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command).Inc()
}

// RecordReply counts one reply by its code, formatted as two hex digits.
func (m *Metrics) RecordReply(code byte) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(replyLabel(code)).Inc()
}

// RecordRelay adds the byte counts of a finished relay. Upstream is client to
// target; downstream is target to client.
func (m *Metrics) RecordRelay(upstream, downstream int64) {
	if m == nil {
		return
	}
	m.RelayBytes.WithLabelValues("upstream").Add(float64(upstream))
	m.RelayBytes.WithLabelValues("downstream").Add(float64(downstream))
}

func (m *Metrics) RecordUDPDatagram(n int) {
	if m == nil {
		return
	}
	m.UDPDatagrams.Inc()
	m.UDPBytes.Add(float64(n))
}

func (m *Metrics) RecordUDPLoopStart() {
	if m == nil {
		return
	}
	m.UDPLoopsActive.Inc()
}

func (m *Metrics) RecordUDPLoopEnd() {
	if m == nil {
		return
	}
	m.UDPLoopsActive.Dec()
}

func (m *Metrics) RecordSentinelShutdown() {
	if m == nil {
		return
	}
	m.SentinelShutdowns.Inc()
}

func (m *Metrics) RecordTunnelConnOpen() {
	if m == nil {
		return
	}
	m.TunnelForwards.Inc()
	m.TunnelConnections.Inc()
}

func (m *Metrics) RecordTunnelConnClose() {
	if m == nil {
		return
	}
	m.TunnelConnections.Dec()
}

// RecordKeepalive counts one keepalive probe as "ok" or "failed".
func (m *Metrics) RecordKeepalive(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.TunnelKeepalives.WithLabelValues(result).Inc()
}

const hexDigits = "0123456789abcdef"

func replyLabel(code byte) string {
	return "0x" + string([]byte{hexDigits[code>>4], hexDigits[code&0x0f]})
}
