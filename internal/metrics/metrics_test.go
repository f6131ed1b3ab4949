package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessions(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd()

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("SessionsActive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal); got != 2 {
		t.Errorf("SessionsTotal = %v, want 2", got)
	}
}

func TestCommandsAndReplies(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordCommand("connect")
	m.RecordCommand("connect")
	m.RecordCommand("bind")
	m.RecordReply(0x00)
	m.RecordReply(0x07)
	m.RecordReply(0x07)

	if got := testutil.ToFloat64(m.Commands.WithLabelValues("connect")); got != 2 {
		t.Errorf("connect = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Commands.WithLabelValues("bind")); got != 1 {
		t.Errorf("bind = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Replies.WithLabelValues("0x07")); got != 2 {
		t.Errorf("0x07 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Replies.WithLabelValues("0x00")); got != 1 {
		t.Errorf("0x00 = %v, want 1", got)
	}
}

func TestRelayAndUDP(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordRelay(100, 2000)
	m.RecordRelay(1, 0)
	m.RecordUDPLoopStart()
	m.RecordUDPDatagram(512)
	m.RecordUDPDatagram(8)

	if got := testutil.ToFloat64(m.RelayBytes.WithLabelValues("upstream")); got != 101 {
		t.Errorf("upstream = %v, want 101", got)
	}
	if got := testutil.ToFloat64(m.RelayBytes.WithLabelValues("downstream")); got != 2000 {
		t.Errorf("downstream = %v, want 2000", got)
	}
	if got := testutil.ToFloat64(m.UDPDatagrams); got != 2 {
		t.Errorf("UDPDatagrams = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.UDPBytes); got != 520 {
		t.Errorf("UDPBytes = %v, want 520", got)
	}
	if got := testutil.ToFloat64(m.UDPLoopsActive); got != 1 {
		t.Errorf("UDPLoopsActive = %v, want 1", got)
	}
}

func TestTunnel(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordTunnelConnOpen()
	m.RecordTunnelConnOpen()
	m.RecordTunnelConnClose()
	m.RecordKeepalive(true)
	m.RecordKeepalive(false)
	m.RecordKeepalive(false)
	m.RecordSentinelShutdown()

	if got := testutil.ToFloat64(m.TunnelForwards); got != 2 {
		t.Errorf("TunnelForwards = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TunnelConnections); got != 1 {
		t.Errorf("TunnelConnections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TunnelKeepalives.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed keepalives = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SentinelShutdowns); got != 1 {
		t.Errorf("SentinelShutdowns = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.RecordSessionStart()
	m.RecordSessionEnd()
	m.RecordCommand("connect")
	m.RecordReply(0x01)
	m.RecordRelay(1, 1)
	m.RecordUDPDatagram(1)
	m.RecordUDPLoopStart()
	m.RecordUDPLoopEnd()
	m.RecordSentinelShutdown()
	m.RecordTunnelConnOpen()
	m.RecordTunnelConnClose()
	m.RecordKeepalive(true)
}

func TestReplyLabel(t *testing.T) {
	tests := map[byte]string{0x00: "0x00", 0x01: "0x01", 0x08: "0x08", 0xff: "0xff"}
	for code, want := range tests {
		if got := replyLabel(code); got != want {
			t.Errorf("replyLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
