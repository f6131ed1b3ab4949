package proxy

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
)

// SOCKS5Server serves SOCKS5 sessions on the listeners passed to Serve.
type SOCKS5Server struct {
	cfg Config

	// ctx is canceled by Shutdown and ends UDP associations.
	ctx    context.Context
	cancel context.CancelFunc

	sentinelOnce sync.Once
	wg           sync.WaitGroup
}

func NewSOCKS5Server(cfg Config) *SOCKS5Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &SOCKS5Server{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Serve accepts connections on ln and handles each in its own goroutine. It
// returns nil once ln is closed. Closing ln does not end sessions already
// accepted.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.wg.Go(func() {
			s.handleConn(c)
		})
	}
}

// Shutdown ends every UDP association. CONNECT and BIND sessions keep running
// until their relays finish.
func (s *SOCKS5Server) Shutdown() {
	s.cancel()
}

// Wait blocks until every session and UDP association has ended.
func (s *SOCKS5Server) Wait() {
	s.wg.Wait()
}

// Drain is Wait bounded by ctx.
func (s *SOCKS5Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SOCKS5Server) handleConn(c net.Conn) {
	s.cfg.Metrics.RecordSessionStart()
	defer s.cfg.Metrics.RecordSessionEnd()

	ss := &session{srv: s, conn: c, state: stateGreeting}
	err := ss.serve()

	if s.cfg.Verbose {
		ss.logSummary(err)
	}
}

func (s *SOCKS5Server) isSentinel(host string) bool {
	return s.cfg.Sentinel != "" && host == s.cfg.Sentinel
}

// triggerShutdown invokes cfg.Shutdown at most once, however many sessions
// race to name the sentinel.
func (s *SOCKS5Server) triggerShutdown(from net.Addr) {
	s.sentinelOnce.Do(func() {
		log.Printf("socks5: sentinel requested by %s, shutting down", from)
		s.cfg.Metrics.RecordSentinelShutdown()
		if s.cfg.Shutdown != nil {
			s.cfg.Shutdown()
		}
	})
}
