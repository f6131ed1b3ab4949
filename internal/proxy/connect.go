package proxy

import (
	"context"
	"fmt"

	"github.com/die-net/sshsocks/internal/socks5"
)

// connect dials target and relays. A failed dial is reported as a general
// failure and is not retried.
func (ss *session) connect(target socks5.Target) error {
	ss.state = stateConnecting

	// An empty name would dial the local host.
	if target.Kind == socks5.KindDomain && target.Host == "" {
		_ = ss.reply(socks5.RepGeneralFailure, nil)
		return fmt.Errorf("connect: %w", errEmptyDomain)
	}

	up, err := ss.srv.cfg.Dialer.DialContext(context.Background(), "tcp", target.Address())
	if err != nil {
		_ = ss.reply(socks5.RepGeneralFailure, nil)
		return fmt.Errorf("connect: %w", err)
	}

	bound := up.LocalAddr()
	if ss.srv.cfg.LegacyReplies {
		bound = socks5.LegacyBindAddr
	}
	if err := ss.reply(socks5.RepSuccess, bound); err != nil {
		_ = up.Close()
		return err
	}

	return ss.relay(up)
}
