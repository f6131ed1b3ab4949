package dialer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/die-net/sshsocks/internal/testutil"
)

func TestDirectDialer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	d, err := NewDirectDialer(Config{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	c, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestDirectDialerRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := NewDirectDialer(Config{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.DialContext(ctx, "tcp", testutil.ClosedPort(t)); err == nil {
		t.Fatal("expected error")
	}
}

func TestDirectDialerUsesDNSServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()
	_, port, _ := net.SplitHostPort(echoLn.Addr().String())

	dnsAddr := startDNSServer(t, map[string]net.IP{
		"echo.test.": net.IPv4(127, 0, 0, 1),
	})

	d, err := NewDirectDialer(Config{DialTimeout: 2 * time.Second, DNSServer: dnsAddr})
	if err != nil {
		t.Fatal(err)
	}

	c, err := d.DialContext(ctx, "tcp", net.JoinHostPort("echo.test", port))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	testutil.AssertEcho(t, c, c, []byte("resolved"))

	if _, err := d.DialContext(ctx, "tcp", net.JoinHostPort("missing.test", port)); err == nil {
		t.Fatal("expected resolution failure")
	}
}

// startDNSServer serves A records from records and NXDOMAIN for everything
// else.
func startDNSServer(t *testing.T, records map[string]net.IP) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			ip, ok := records[q.Name]
			if !ok || q.Qtype != dns.TypeA {
				m.SetRcode(r, dns.RcodeNameError)
				_ = w.WriteMsg(m)
				return
			}
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   ip,
			})
			_ = w.WriteMsg(m)
		}),
	}

	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() { _ = srv.ActivateAndServe() }()
	<-started

	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestResolver(t *testing.T) {
	addr := startDNSServer(t, map[string]net.IP{
		"a.test.": net.IPv4(192, 0, 2, 7),
	})

	r, err := NewResolver(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ip, err := r.LookupIPv4(ctx, "a.test")
	if err != nil {
		t.Fatal(err)
	}
	if !ip.Equal(net.IPv4(192, 0, 2, 7)) {
		t.Fatalf("got %s", ip)
	}

	if _, err := r.LookupIPv4(ctx, "b.test"); err == nil {
		t.Fatal("expected NXDOMAIN error")
	}
}

func TestNewResolverDefaultPort(t *testing.T) {
	t.Parallel()

	r, err := NewResolver("192.0.2.53", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if r.server != "192.0.2.53:53" {
		t.Fatalf("got %q", r.server)
	}
	if _, err := NewResolver("", time.Second); err == nil {
		t.Fatal("expected error for empty server")
	}
}
