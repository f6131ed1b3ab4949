package ssh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/ssh"

	"github.com/die-net/sshsocks/internal/conn"
	"github.com/die-net/sshsocks/internal/metrics"
)

// ErrTunnelClosed is returned by Tunnel operations after Disconnect.
var ErrTunnelClosed = errors.New("ssh: tunnel closed")

// cancelForwardTimeout bounds how long Disconnect waits for the server to
// acknowledge cancel-tcpip-forward before closing the transport anyway.
const cancelForwardTimeout = time.Second

// TunnelConfig holds configuration for a Tunnel.
type TunnelConfig struct {
	// Addr is the SSH server's host:port.
	Addr   string
	Client ClientConfig

	// DialTimeout bounds the TCP connect to Addr and to the local endpoint
	// of each forwarded connection.
	DialTimeout time.Duration
	// TCPKeepAlive is applied to the TCP connection to Addr.
	TCPKeepAlive net.KeepAliveConfig

	// KeepAliveInterval is the period between keepalive@openssh.com probes.
	// Zero disables probing.
	KeepAliveInterval time.Duration
	// KeepAliveMax is the number of consecutive failed probes after which
	// the transport is considered lost. Zero means never.
	KeepAliveMax int
	// OnLost, if set, is called once when the transport drops without
	// Disconnect having been called.
	OnLost func(error)

	Metrics *metrics.Metrics
	Verbose bool
}

// Tunnel is an SSH client that serves remote port forwards.
type Tunnel struct {
	cfg TunnelConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	client    *ssh.Client
	listeners []net.Listener
	closed    bool

	lostOnce sync.Once
	wg       sync.WaitGroup
}

// NewTunnel validates cfg and returns an unconnected Tunnel.
func NewTunnel(cfg TunnelConfig) (*Tunnel, error) {
	if err := cfg.Client.validate(cfg.Addr); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tunnel{cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// Connect dials the SSH server and completes the handshake. It may be called
// once.
func (t *Tunnel) Connect(ctx context.Context) error {
	t.mu.Lock()
	closed, connected := t.closed, t.client != nil
	t.mu.Unlock()
	if closed {
		return ErrTunnelClosed
	}
	if connected {
		return errors.New("ssh: already connected")
	}

	d := net.Dialer{Timeout: t.cfg.DialTimeout, KeepAliveConfig: t.cfg.TCPKeepAlive}
	c, err := d.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", t.cfg.Addr, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})

	client, err := NewClient(c, t.cfg.Client, t.cfg.Addr)
	if !stop() {
		if err == nil {
			_ = client.Close()
		}
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = client.Close()
		return ErrTunnelClosed
	}
	t.client = client
	t.mu.Unlock()

	log.Printf("ssh: connected to %s as %s", t.cfg.Addr, t.cfg.Client.Username)

	t.wg.Go(func() {
		err := client.Wait()
		if err == nil {
			err = errors.New("connection closed by server")
		}
		t.lost(err)
	})
	if t.cfg.KeepAliveInterval > 0 {
		t.wg.Go(func() {
			t.keepalive(client)
		})
	}

	return nil
}

// ForwardRemotePort asks the server to listen on remoteHost:remotePort and
// delivers every connection made there to localHost:localPort. A remotePort
// of 0 lets the server pick; RemoteAddrs reports the result.
func (t *Tunnel) ForwardRemotePort(ctx context.Context, remoteHost string, remotePort int, localHost string, localPort int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	client, closed := t.client, t.closed
	t.mu.Unlock()
	if closed {
		return ErrTunnelClosed
	}
	if client == nil {
		return errors.New("ssh: not connected")
	}

	remote := net.JoinHostPort(remoteHost, strconv.Itoa(remotePort))
	local := net.JoinHostPort(localHost, strconv.Itoa(localPort))

	// The request itself has no deadline; a canceled ctx tears down the
	// transport to unblock it.
	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	ln, err := client.Listen("tcp", remote)
	if !stop() {
		if err == nil {
			_ = ln.Close()
		}
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("ssh remote forward %s: %w", remote, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = ln.Close()
		return ErrTunnelClosed
	}
	t.listeners = append(t.listeners, ln)
	t.mu.Unlock()

	log.Printf("ssh: remote %s forwarded to %s", ln.Addr(), local)

	t.wg.Go(func() {
		t.serveForward(ln, local)
	})
	return nil
}

// RemoteAddrs returns the server-side addresses of active forwards.
func (t *Tunnel) RemoteAddrs() []net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	addrs := make([]net.Addr, 0, len(t.listeners))
	for _, ln := range t.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Disconnect cancels every remote forward and closes the SSH connection.
// Subsequent calls do nothing.
func (t *Tunnel) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	client, lns := t.client, t.listeners
	t.listeners = nil
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ln := range lns {
			_ = ln.Close()
		}
	}()
	select {
	case <-done:
	case <-time.After(cancelForwardTimeout):
		log.Printf("ssh: cancel-tcpip-forward not acknowledged, closing")
	}

	if client != nil {
		_ = client.Close()
	}
	t.cancel()

	log.Printf("ssh: disconnected from %s", t.cfg.Addr)
}

// Wait blocks until every goroutine started by the Tunnel has returned. It is
// meaningful after Disconnect.
func (t *Tunnel) Wait() {
	t.wg.Wait()
}

func (t *Tunnel) serveForward(ln net.Listener, local string) {
	for {
		remote, err := ln.Accept()
		if err != nil {
			return
		}

		t.wg.Go(func() {
			t.pipe(remote, local)
		})
	}
}

func (t *Tunnel) pipe(remote net.Conn, local string) {
	t.cfg.Metrics.RecordTunnelConnOpen()
	defer t.cfg.Metrics.RecordTunnelConnClose()

	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	lc, err := d.DialContext(t.ctx, "tcp", local)
	if err != nil {
		_ = remote.Close()
		if t.cfg.Verbose {
			log.Printf("ssh: forward from %s: %v", remote.RemoteAddr(), err)
		}
		return
	}

	stats, err := conn.CopyBidirectional(t.ctx, remote, lc, conn.RelayOptions{})
	if t.cfg.Verbose {
		if err != nil {
			log.Printf("ssh: forward from %s: %v", remote.RemoteAddr(), err)
		}
		log.Printf("ssh: forward from %s closed, %s in, %s out", remote.RemoteAddr(),
			humanize.IBytes(uint64(stats.LeftToRight)), humanize.IBytes(uint64(stats.RightToLeft))) //nolint:gosec // Counts are non-negative.
	}
}

func (t *Tunnel) keepalive(client *ssh.Client) {
	ticker := time.NewTicker(t.cfg.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}

		ok := t.probe(client)
		t.cfg.Metrics.RecordKeepalive(ok)
		if ok {
			failures = 0
			continue
		}

		failures++
		if t.cfg.Verbose {
			log.Printf("ssh: keepalive failed (%d/%d)", failures, t.cfg.KeepAliveMax)
		}
		if t.cfg.KeepAliveMax > 0 && failures >= t.cfg.KeepAliveMax {
			t.lost(fmt.Errorf("ssh: %d keepalives unanswered", failures))
			_ = client.Close()
			return
		}
	}
}

// probe reports whether the server answered a keepalive within one interval.
// Any answer counts, including a refusal.
func (t *Tunnel) probe(client *ssh.Client) bool {
	errc := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		errc <- err
	}()

	timer := time.NewTimer(t.cfg.KeepAliveInterval)
	defer timer.Stop()

	select {
	case err := <-errc:
		return err == nil
	case <-timer.C:
		return false
	case <-t.ctx.Done():
		return true
	}
}

func (t *Tunnel) lost(err error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	t.lostOnce.Do(func() {
		log.Printf("ssh: connection to %s lost: %v", t.cfg.Addr, err)
		if t.cfg.OnLost != nil {
			go t.cfg.OnLost(err)
		}
	})
}
