package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/die-net/sshsocks/internal/socks5"
)

// bind listens on an ephemeral port, reports it, accepts exactly one peer,
// reports it again with the same address, and relays between client and
// peer.
func (ss *session) bind() error {
	ss.state = stateBinding

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp4", net.JoinHostPort(ss.listenHost(), "0"))
	if err != nil {
		_ = ss.reply(socks5.RepGeneralFailure, nil)
		return fmt.Errorf("bind listen: %w", err)
	}
	defer ln.Close()

	bound := ln.Addr().(*net.TCPAddr)
	if ss.srv.cfg.LegacyReplies {
		bound = &net.TCPAddr{IP: socks5.LegacyBindAddr.IP, Port: bound.Port}
	}

	if err := ss.reply(socks5.RepSuccess, bound); err != nil {
		return err
	}

	if t := ss.srv.cfg.BindTimeout; t > 0 {
		if tl, ok := ln.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(t))
		}
	}

	peer, err := ln.Accept()
	if err != nil {
		_ = ss.reply(socks5.RepGeneralFailure, nil)
		return fmt.Errorf("bind accept: %w", err)
	}
	_ = ln.Close()

	if tc, ok := peer.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(ss.srv.cfg.KeepAlive)
	}

	if err := ss.reply(socks5.RepSuccess, bound); err != nil {
		_ = peer.Close()
		return err
	}

	return ss.relay(peer)
}
