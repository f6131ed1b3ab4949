package dialer

import (
	"context"
	"fmt"
	"net"
)

type directDialer struct {
	cfg      Config
	resolver *Resolver
}

// NewDirectDialer returns a Dialer that connects from this host.
func NewDirectDialer(cfg Config) (Dialer, error) {
	d := &directDialer{cfg: cfg}
	if cfg.DNSServer != "" {
		r, err := NewResolver(cfg.DNSServer, cfg.DialTimeout)
		if err != nil {
			return nil, err
		}
		d.resolver = r
	}
	return d, nil
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	target := address
	if f.resolver != nil {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
		}
		if net.ParseIP(host) == nil {
			ip, err := f.resolver.LookupIPv4(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
			}
			target = net.JoinHostPort(ip.String(), port)
		}
	}

	dd := net.Dialer{Timeout: f.cfg.DialTimeout, KeepAliveConfig: f.cfg.KeepAlive}

	conn, err := dd.DialContext(ctx, network, target)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	return conn, nil
}
