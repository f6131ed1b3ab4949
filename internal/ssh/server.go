package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Server is an SSH server that honors remote port forward requests.
//
// For every "tcpip-forward" global request it listens on the requested
// address and opens a "forwarded-tcpip" channel back to the client for each
// accepted connection, as OpenSSH's sshd does for ssh -R.
type Server struct {
	config         *ssh.ServerConfig
	listener       net.Listener
	dropKeepalives bool

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// ServerConfig holds configuration for the SSH server.
type ServerConfig struct {
	// HostKeys are the server's private host key(s). At least one is required.
	HostKeys []ssh.Signer

	// PasswordCallback authenticates users by password. At least one of
	// PasswordCallback or PublicKeyCallback must be set.
	PasswordCallback func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error)

	// PublicKeyCallback authenticates users by public key.
	PublicKeyCallback func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error)

	// DropKeepalives leaves keepalive@openssh.com requests unanswered,
	// simulating a hung peer.
	DropKeepalives bool
}

// RFC 4254 7.1.
type forwardRequest struct {
	BindAddr string
	BindPort uint32
}

type forwardReply struct {
	Port uint32
}

// RFC 4254 7.2.
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// NewServer creates a new SSH server listening on the given address.
func NewServer(addr string, cfg ServerConfig) (*Server, error) {
	if cfg.PasswordCallback == nil && cfg.PublicKeyCallback == nil {
		return nil, errors.New("ssh server: at least one auth callback required")
	}

	sshConfig := &ssh.ServerConfig{
		PasswordCallback:  cfg.PasswordCallback,
		PublicKeyCallback: cfg.PublicKeyCallback,
	}

	if len(cfg.HostKeys) == 0 {
		return nil, errors.New("ssh server: at least one host key required")
	}
	for _, key := range cfg.HostKeys {
		sshConfig.AddHostKey(key)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh server listen: %w", err)
	}

	return &Server{
		config:         sshConfig,
		listener:       ln,
		dropKeepalives: cfg.DropKeepalives,
		shutdown:       make(chan struct{}),
	}, nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts and handles SSH connections until the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			return fmt.Errorf("ssh server accept: %w", err)
		}

		s.wg.Go(func() {
			s.handleConn(ctx, c)
		})
	}
}

// Close stops accepting new connections, drops existing ones, and waits for
// their handlers to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.shutdown)
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	defer c.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(c, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	context.AfterFunc(ctx, func() {
		_ = sshConn.Close()
	})
	go func() {
		select {
		case <-ctx.Done():
		case <-s.shutdown:
			cancel()
		}
	}()

	// Clients of a remote-forward server have no reason to open channels.
	go func() {
		for newChan := range chans {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}()

	fw := &forwards{conn: sshConn, listeners: make(map[string]net.Listener)}
	defer fw.closeAll()

	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			s.handleForward(fw, req)
		case "cancel-tcpip-forward":
			var m forwardRequest
			if err := ssh.Unmarshal(req.Payload, &m); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(fw.cancel(m), nil)
		case "keepalive@openssh.com":
			if !s.dropKeepalives {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) handleForward(fw *forwards, req *ssh.Request) {
	var m forwardRequest
	if err := ssh.Unmarshal(req.Payload, &m); err != nil {
		_ = req.Reply(false, nil)
		return
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(m.BindAddr, strconv.Itoa(int(m.BindPort))))
	if err != nil {
		_ = req.Reply(false, nil)
		return
	}

	port := uint32(ln.Addr().(*net.TCPAddr).Port) //nolint:gosec // Ports fit in uint32.
	var reply []byte
	if m.BindPort == 0 {
		reply = ssh.Marshal(&forwardReply{Port: port})
	}

	bound := forwardRequest{BindAddr: m.BindAddr, BindPort: port}
	fw.add(bound, ln)
	if err := req.Reply(true, reply); err != nil {
		fw.cancel(bound)
		return
	}

	fw.wg.Go(func() {
		fw.serve(ln, bound)
	})
}

// forwards tracks the listeners opened for one SSH connection.
type forwards struct {
	conn *ssh.ServerConn

	mu        sync.Mutex
	listeners map[string]net.Listener
	wg        sync.WaitGroup
}

func forwardKey(m forwardRequest) string {
	return net.JoinHostPort(m.BindAddr, strconv.Itoa(int(m.BindPort)))
}

func (f *forwards) add(m forwardRequest, ln net.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[forwardKey(m)] = ln
}

func (f *forwards) cancel(m forwardRequest) bool {
	f.mu.Lock()
	ln, ok := f.listeners[forwardKey(m)]
	delete(f.listeners, forwardKey(m))
	f.mu.Unlock()

	if ok {
		_ = ln.Close()
	}
	return ok
}

func (f *forwards) closeAll() {
	f.mu.Lock()
	for k, ln := range f.listeners {
		_ = ln.Close()
		delete(f.listeners, k)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *forwards) serve(ln net.Listener, bound forwardRequest) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}

		f.wg.Go(func() {
			f.deliver(c, bound)
		})
	}
}

// deliver opens a forwarded-tcpip channel for c and copies until either side
// finishes.
func (f *forwards) deliver(c net.Conn, bound forwardRequest) {
	defer c.Close()

	origin := c.RemoteAddr().(*net.TCPAddr)
	payload := forwardedTCPPayload{
		Addr:       bound.BindAddr,
		Port:       bound.BindPort,
		OriginAddr: origin.IP.String(),
		OriginPort: uint32(origin.Port), //nolint:gosec // Ports fit in uint32.
	}

	ch, reqs, err := f.conn.OpenChannel("forwarded-tcpip", ssh.Marshal(&payload))
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(reqs)

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(ch, c)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(c, ch)
		done <- struct{}{}
	}()

	// Wait for one direction to finish, then close both.
	<-done
}

// GenerateHostKey returns a random Ed25519 host key.
func GenerateHostKey() (ssh.Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

// SimplePasswordAuth returns a PasswordCallback that authenticates against
// a single username/password pair.
func SimplePasswordAuth(username, password string) func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
	return func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
		if conn.User() != username || string(pass) != password {
			return nil, errors.New("invalid credentials")
		}
		return &ssh.Permissions{}, nil
	}
}
