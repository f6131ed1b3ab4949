package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/die-net/sshsocks/internal/conn"
	"github.com/die-net/sshsocks/internal/socks5"
)

const udpResolveTimeout = 5 * time.Second

// associate opens a UDP socket, reports it, closes the control connection,
// and leaves the socket to a forwarding loop.
func (ss *session) associate(target socks5.Target) error {
	ss.state = stateAssociating

	client, err := ss.clientEndpoint(target)
	if err != nil {
		_ = ss.reply(socks5.RepGeneralFailure, nil)
		return fmt.Errorf("udp associate: %w", err)
	}

	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort(ss.listenHost(), "0"))
	if err != nil {
		_ = ss.reply(socks5.RepGeneralFailure, nil)
		return fmt.Errorf("udp listen: %w", err)
	}

	var bound net.Addr = pc.LocalAddr()
	if ss.srv.cfg.LegacyReplies {
		bound = &net.UDPAddr{IP: socks5.LegacyBindAddr.IP, Port: pc.LocalAddr().(*net.UDPAddr).Port}
	}
	if err := ss.reply(socks5.RepSuccess, bound); err != nil {
		_ = pc.Close()
		return err
	}

	// The association does not use the control connection.
	_ = ss.conn.Close()

	ss.state = stateRelaying
	ss.srv.wg.Go(func() {
		ss.srv.forwardDatagrams(pc, client)
	})
	return nil
}

// clientEndpoint turns the requested address into the endpoint datagrams are
// sent to. An unspecified IP means the control connection's peer. Port 0 is
// kept and resolved per datagram.
func (ss *session) clientEndpoint(target socks5.Target) (*net.UDPAddr, error) {
	var ip net.IP
	switch target.Kind {
	case socks5.KindIPv4:
		ip = net.ParseIP(target.Host).To4()
	default:
		if target.Host == "" {
			return nil, errEmptyDomain
		}
		ctx, cancel := context.WithTimeout(context.Background(), udpResolveTimeout)
		defer cancel()
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", target.Host)
		if err != nil {
			return nil, err
		}
		ip = ips[0].To4()
	}

	if ip == nil || ip.IsUnspecified() {
		peer, ok := ss.conn.RemoteAddr().(*net.TCPAddr)
		if !ok || peer.IP.To4() == nil {
			return nil, errors.New("no IPv4 client address")
		}
		ip = peer.IP.To4()
	}

	return &net.UDPAddr{IP: ip, Port: int(target.Port)}, nil
}

// forwardDatagrams sends every datagram received on pc, unmodified, to
// client. When client has no port, the sender's port is used. The loop ends
// on a socket error, on Shutdown, or after UDPIdleTimeout of silence.
func (s *SOCKS5Server) forwardDatagrams(pc net.PacketConn, client *net.UDPAddr) {
	defer pc.Close()

	s.cfg.Metrics.RecordUDPLoopStart()
	defer s.cfg.Metrics.RecordUDPLoopEnd()

	stop := context.AfterFunc(s.ctx, func() {
		_ = pc.Close()
	})
	defer stop()

	bufp := conn.GetDatagramBuffer()
	defer conn.PutDatagramBuffer(bufp)
	buf := *bufp

	for {
		if t := s.cfg.UDPIdleTimeout; t > 0 {
			_ = pc.SetReadDeadline(time.Now().Add(t))
		}

		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if s.cfg.Verbose && !errors.Is(err, net.ErrClosed) {
				log.Printf("socks5: udp %s: %v", pc.LocalAddr(), err)
			}
			return
		}

		dst := client
		if dst.Port == 0 {
			if ua, ok := from.(*net.UDPAddr); ok {
				dst = &net.UDPAddr{IP: client.IP, Port: ua.Port}
			}
		}

		if _, err := pc.WriteTo(buf[:n], dst); err != nil {
			if s.cfg.Verbose {
				log.Printf("socks5: udp %s -> %s: %v", pc.LocalAddr(), dst, err)
			}
			return
		}
		s.cfg.Metrics.RecordUDPDatagram(n)
	}
}
