package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// BindFlags registers a flag for each setting in c, using the current
// values of c as defaults.
func BindFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.SSH.Address, "ssh", c.SSH.Address, "SSH server host:port carrying the remote forward")
	fs.StringVar(&c.SSH.User, "ssh-user", c.SSH.User, "SSH username")
	fs.StringVar(&c.SSH.Password, "ssh-password", c.SSH.Password, "SSH password")
	fs.StringVar(&c.SSH.Key, "ssh-key", c.SSH.Key, "SSH private key path, or \"agent\" to use the ssh-agent")
	fs.StringVar(&c.SSH.KnownHosts, "ssh-known-hosts", c.SSH.KnownHosts, "SSH known_hosts path; empty disables host key checking")
	fs.DurationVar(&c.SSH.HandshakeTimeout, "ssh-handshake-timeout", c.SSH.HandshakeTimeout, "SSH handshake timeout")
	fs.DurationVar(&c.SSH.KeepAliveInterval, "ssh-keepalive-interval", c.SSH.KeepAliveInterval, "Interval between SSH keepalive requests; 0 disables")
	fs.IntVar(&c.SSH.KeepAliveMax, "ssh-keepalive-max", c.SSH.KeepAliveMax, "Consecutive failed SSH keepalives before the tunnel is considered lost")

	fs.StringVar(&c.Forward.RemoteHost, "remote-host", c.Forward.RemoteHost, "Address the SSH server listens on for the remote peer")
	fs.IntVar(&c.Forward.RemotePort, "remote-port", c.Forward.RemotePort, "Port the SSH server listens on for the remote peer; 0 lets the server choose")

	fs.StringVar(&c.Listen.Host, "listen-host", c.Listen.Host, "Local SOCKS5 listen address")
	fs.IntVar(&c.Listen.Port, "listen-port", c.Listen.Port, "Local SOCKS5 listen port; 0 picks an ephemeral port")
	fs.BoolVar(&c.Listen.ReusePort, "reuse-port", c.Listen.ReusePort, "Set SO_REUSEPORT on the SOCKS5 listener")

	fs.StringVar(&c.SOCKS5.Sentinel, "sentinel", c.SOCKS5.Sentinel, "Domain name that stops the proxy when requested, e.g. xxx.xxx for the stock client; empty disables")
	fs.BoolVar(&c.SOCKS5.LegacyReplies, "legacy-replies", c.SOCKS5.LegacyReplies, "Report 127.0.0.1:80 as the CONNECT bound address")
	fs.StringVar(&c.SOCKS5.BindHost, "bind-host", c.SOCKS5.BindHost, "Address for BIND and UDP ASSOCIATE sockets; empty uses the local address of the control connection")
	fs.DurationVar(&c.SOCKS5.BindTimeout, "bind-timeout", c.SOCKS5.BindTimeout, "Time to wait for the inbound BIND connection; 0 waits forever")
	fs.DurationVar(&c.SOCKS5.UDPIdleTimeout, "udp-idle-timeout", c.SOCKS5.UDPIdleTimeout, "End a UDP association after this long without datagrams; 0 never")
	fs.DurationVar(&c.SOCKS5.NegotiationTimeout, "negotiation-timeout", c.SOCKS5.NegotiationTimeout, "Time limit for the SOCKS5 greeting and request")
	fs.StringVar(&c.SOCKS5.RelayRateLimit, "relay-rate-limit", c.SOCKS5.RelayRateLimit, "Per-direction relay limit in bytes per second, e.g. 1MiB; empty is unlimited")

	fs.StringVar(&c.Outbound.Upstream, "upstream", c.Outbound.Upstream, "Outbound dialer: direct:// or socks5://[user:pass@]host:port")
	fs.DurationVar(&c.Outbound.DialTimeout, "dial-timeout", c.Outbound.DialTimeout, "Outbound dial timeout")
	fs.StringVar(&c.Outbound.DNSServer, "dns-server", c.Outbound.DNSServer, "DNS server host[:port] for outbound name resolution; empty uses the system resolver")
	fs.StringVar(&c.Outbound.TCPKeepAlive, "tcp-keepalive", c.Outbound.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "Time to wait for in-flight sessions after stopping")
	fs.StringVar(&c.DebugListen, "debug-listen", c.DebugListen, "Serve /debug/pprof and /metrics on this host:port")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "Log per-connection errors and session summaries")
}

// Overlay returns a copy of base with every flag explicitly set in fs applied
// on top. fs must have been registered with BindFlags.
func Overlay(fs *pflag.FlagSet, base *Config) (*Config, error) {
	out := *base
	over := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	BindFlags(over, &out)

	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil || over.Lookup(f.Name) == nil {
			return
		}
		if setErr := over.Set(f.Name, f.Value.String()); setErr != nil {
			err = fmt.Errorf("flag --%s: %w", f.Name, setErr)
		}
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}
