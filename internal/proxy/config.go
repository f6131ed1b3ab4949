package proxy

import (
	"net"
	"time"

	"github.com/die-net/sshsocks/internal/dialer"
	"github.com/die-net/sshsocks/internal/metrics"
)

type Config struct {
	// Dialer opens CONNECT targets.
	Dialer dialer.Dialer

	// NegotiationTimeout bounds the greeting and request. Zero means no
	// timeout.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Sentinel is the domain that requests shutdown. Empty disables it.
	Sentinel string
	// Shutdown is called once, the first time a session names Sentinel.
	Shutdown func()

	// LegacyReplies reports 127.0.0.1 as the bound address of every success
	// reply, and port 80 for CONNECT.
	LegacyReplies bool

	// BindHost is the address BIND and UDP ASSOCIATE listen on. Empty means
	// the local address of the control connection.
	BindHost string
	// BindTimeout bounds the wait for a BIND peer. Zero waits forever.
	BindTimeout time.Duration
	// UDPIdleTimeout ends a UDP association after this long without a
	// datagram. Zero means never.
	UDPIdleTimeout time.Duration

	// RelayRateLimit caps each relay direction in bytes per second. Zero is
	// unlimited.
	RelayRateLimit int64

	Metrics *metrics.Metrics
	Verbose bool
}
