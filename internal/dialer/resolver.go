package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Resolver looks up IPv4 addresses against a single DNS server.
type Resolver struct {
	server string
	client *dns.Client
}

// NewResolver returns a Resolver querying server over UDP. A server without a
// port uses 53.
func NewResolver(server string, timeout time.Duration) (*Resolver, error) {
	if server == "" {
		return nil, errors.New("resolver: missing server")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}, nil
}

// LookupIPv4 returns the first A record for host.
func (r *Resolver) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("resolve %s: %s", host, dns.RcodeToString[in.Rcode])
	}

	for _, ans := range in.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, fmt.Errorf("resolve %s: no A records", host)
}
