package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/die-net/sshsocks/internal/conn"
	"github.com/die-net/sshsocks/internal/socks5"
)

type sessionState int

const (
	stateGreeting sessionState = iota
	stateCommand
	stateConnecting
	stateBinding
	stateAssociating
	stateRelaying
)

func (s sessionState) String() string {
	switch s {
	case stateGreeting:
		return "greeting"
	case stateCommand:
		return "command"
	case stateConnecting:
		return "connecting"
	case stateBinding:
		return "binding"
	case stateAssociating:
		return "associating"
	case stateRelaying:
		return "relaying"
	default:
		return "unknown"
	}
}

type session struct {
	srv  *SOCKS5Server
	conn net.Conn

	state    sessionState
	cmd      byte
	target   socks5.Target
	relayed  conn.RelayStats
	sentinel bool
}

var (
	errUnsupportedCommand = errors.New("socks5: command not supported")
	errEmptyDomain        = errors.New("socks5: empty domain name")
)

// serve runs the session to completion. The client connection is closed on
// return. On error, state is the phase that failed.
func (ss *session) serve() error {
	c := ss.conn
	defer c.Close()

	cfg := &ss.srv.cfg
	if cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(cfg.NegotiationTimeout))
	}

	if err := socks5.ServerGreeting(c); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}

	ss.state = stateCommand
	h, err := socks5.ReadRequestHeader(c)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	if h.Ver != socks5.Version {
		return fmt.Errorf("request: %w", socks5.ErrVersion)
	}

	ss.cmd = h.Cmd
	cfg.Metrics.RecordCommand(socks5.CommandName(h.Cmd))

	switch h.Cmd {
	case socks5.CmdConnect, socks5.CmdBind, socks5.CmdUDP:
	default:
		_ = ss.reply(socks5.RepCommandNotSupported, nil)
		return fmt.Errorf("request %#02x: %w", h.Cmd, errUnsupportedCommand)
	}

	target, err := socks5.ReadTarget(c, h.Atyp)
	if err != nil {
		if errors.Is(err, socks5.ErrAddressNotSupported) {
			_ = ss.reply(socks5.RepAddressNotSupported, nil)
		}
		return fmt.Errorf("request address: %w", err)
	}
	ss.target = target

	if target.Kind == socks5.KindDomain && ss.srv.isSentinel(target.Host) {
		ss.sentinel = true
		ss.srv.triggerShutdown(c.RemoteAddr())
		return nil
	}

	if cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}

	switch h.Cmd {
	case socks5.CmdConnect:
		return ss.connect(target)
	case socks5.CmdBind:
		return ss.bind()
	default:
		return ss.associate(target)
	}
}

// reply writes a reply and counts it.
func (ss *session) reply(rep byte, addr net.Addr) error {
	ss.srv.cfg.Metrics.RecordReply(rep)

	var err error
	if rep == socks5.RepSuccess {
		err = socks5.WriteSuccessReply(ss.conn, addr)
	} else {
		err = socks5.WriteFailureReply(ss.conn, rep)
	}
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

// relay copies between the client and other until either side finishes.
func (ss *session) relay(other net.Conn) error {
	ss.state = stateRelaying

	cfg := &ss.srv.cfg
	stats, err := conn.CopyBidirectional(context.Background(), ss.conn, other, conn.RelayOptions{RateLimit: cfg.RelayRateLimit})
	ss.relayed = stats
	cfg.Metrics.RecordRelay(stats.LeftToRight, stats.RightToLeft)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// listenHost picks the host for BIND and UDP ASSOCIATE sockets.
func (ss *session) listenHost() string {
	if h := ss.srv.cfg.BindHost; h != "" {
		return h
	}
	if a, ok := ss.conn.LocalAddr().(*net.TCPAddr); ok && a.IP.To4() != nil {
		return a.IP.String()
	}
	return "0.0.0.0"
}

func (ss *session) logSummary(err error) {
	from := ss.conn.RemoteAddr()
	switch {
	case ss.sentinel:
		log.Printf("socks5: %s sentinel %s", from, ss.target)
	case err != nil:
		log.Printf("socks5: %s %s %s failed while %s: %v", from, socks5.CommandName(ss.cmd), ss.target, ss.state, err)
	case ss.cmd == socks5.CmdUDP:
		log.Printf("socks5: %s udp_associate %s started", from, ss.target)
	default:
		log.Printf("socks5: %s %s %s closed, %s up, %s down", from, socks5.CommandName(ss.cmd), ss.target,
			humanize.IBytes(uint64(ss.relayed.LeftToRight)), humanize.IBytes(uint64(ss.relayed.RightToLeft))) //nolint:gosec // Counts are non-negative.
	}
}
