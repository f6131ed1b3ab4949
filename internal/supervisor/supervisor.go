// Package supervisor owns the SOCKS5 listener and coordinates its lifetime
// with the tunnel that exposes it remotely.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/die-net/sshsocks/internal/conn"
	"github.com/die-net/sshsocks/internal/proxy"
)

var (
	ErrStarted = errors.New("supervisor: already started")
	ErrStopped = errors.New("supervisor: stopped")
)

// Tunnel carries connections made to a remote address back to the local
// listener.
type Tunnel interface {
	Connect(ctx context.Context) error
	ForwardRemotePort(ctx context.Context, remoteHost string, remotePort int, localHost string, localPort int) error
	Disconnect()
}

type Config struct {
	// RemoteHost and RemotePort are where the tunnel listens on the far side.
	RemoteHost string
	RemotePort int

	KeepAlive net.KeepAliveConfig
	ReusePort bool
}

// Supervisor runs one SOCKS5 server behind one tunnel.
type Supervisor struct {
	cfg    Config
	tunnel Tunnel
	server *proxy.SOCKS5Server

	mu      sync.Mutex
	started bool
	stopped bool
	ln      net.Listener

	stopOnce       sync.Once
	disconnectOnce sync.Once
	done           chan struct{}
	serving        sync.WaitGroup
}

// New returns a Supervisor for tunnel. The SOCKS5 server is built from
// proxyCfg with its sentinel wired to Stop.
func New(cfg Config, tunnel Tunnel, proxyCfg proxy.Config) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		tunnel: tunnel,
		done:   make(chan struct{}),
	}
	proxyCfg.Shutdown = s.Stop
	s.server = proxy.NewSOCKS5Server(proxyCfg)
	return s
}

// Start connects the tunnel, binds localHost:localPort, registers the remote
// forward, and begins serving. Any failure is returned and leaves nothing
// listening; a tunnel that connected is disconnected. A localPort of 0 binds
// an ephemeral port, which is what gets forwarded.
func (s *Supervisor) Start(ctx context.Context, localHost string, localPort int) error {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	case s.started:
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("tunnel connect: %w", err)
	}

	ln, err := conn.ListenTCP("tcp", net.JoinHostPort(localHost, strconv.Itoa(localPort)), s.cfg.KeepAlive, s.cfg.ReusePort)
	if err != nil {
		s.disconnect()
		return fmt.Errorf("listen: %w", err)
	}
	bound := ln.Addr().(*net.TCPAddr).Port

	if err := s.tunnel.ForwardRemotePort(ctx, s.cfg.RemoteHost, s.cfg.RemotePort, localHost, bound); err != nil {
		_ = ln.Close()
		s.disconnect()
		return fmt.Errorf("tunnel forward: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrStopped
	}
	s.ln = ln
	s.mu.Unlock()

	log.Printf("socks5: listening on %s", ln.Addr())

	s.serving.Go(func() {
		if err := s.server.Serve(ln); err != nil {
			log.Printf("socks5: serve: %v", err)
		}
	})
	return nil
}

// Addr returns the listener address, or nil before a successful Start.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener, ends UDP associations, and disconnects the tunnel.
// In-flight CONNECT and BIND relays are left to finish. It is safe to call
// more than once and from any goroutine.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		ln := s.ln
		s.mu.Unlock()

		if ln != nil {
			_ = ln.Close()
		}
		s.server.Shutdown()
		s.disconnect()

		log.Printf("socks5: stopped")
		close(s.done)
	})
}

// Done is closed once Stop has run.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the accept loop and every session have ended.
func (s *Supervisor) Wait() {
	s.serving.Wait()
	s.server.Wait()
}

// Drain is Wait bounded by ctx.
func (s *Supervisor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) disconnect() {
	s.disconnectOnce.Do(s.tunnel.Disconnect)
}
