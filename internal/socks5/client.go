package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Auth configures optional username/password authentication when talking to
// an upstream SOCKS5 server.
type Auth struct {
	Username string
	Password string
}

// ClientDial negotiates with the SOCKS5 server on conn and issues a CONNECT to
// address.
func ClientDial(conn net.Conn, auth Auth, address string) error {
	if err := ClientNegotiate(conn, auth); err != nil {
		return err
	}
	rep, err := ClientRequest(conn, CmdConnect, address)
	if err != nil {
		return err
	}
	if rep.Rep != RepSuccess {
		return fmt.Errorf("connect failed: reply %#02x", rep.Rep)
	}
	return nil
}

func ClientNegotiate(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return errors.New("server requires username/password")
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return errors.New("auth failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported negotiation method: %d", neg.Method)
	}
}

// ClientRequest writes a request for cmd and address and reads one reply.
// The caller inspects Rep; for BIND a second reply follows on conn.
func ClientRequest(conn net.Conn, cmd byte, address string) (*txsocks5.Reply, error) {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(cmd, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return rep, nil
}

// ReplyAddr converts the bound address of an IPv4 reply into a TCP address.
func ReplyAddr(rep *txsocks5.Reply) (*net.TCPAddr, error) {
	if rep.Atyp != txsocks5.ATYPIPv4 || len(rep.BndAddr) != net.IPv4len || len(rep.BndPort) != 2 {
		return nil, fmt.Errorf("unexpected bound address type %#02x", rep.Atyp)
	}
	port := int(rep.BndPort[0])<<8 | int(rep.BndPort[1])
	return &net.TCPAddr{IP: net.IP(rep.BndAddr), Port: port}, nil
}
