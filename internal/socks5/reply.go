package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	RepSuccess             = txsocks5.RepSuccess
	RepGeneralFailure      = txsocks5.RepServerFailure
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
	RepAddressNotSupported = txsocks5.RepAddressNotSupported
)

// LegacyBindAddr is the fixed endpoint reported in CONNECT success replies
// when legacy replies are enabled.
var LegacyBindAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 80}

// WriteSuccessReply writes a success reply carrying addr as BND.ADDR and
// BND.PORT. Non-IPv4 addresses are reported as 0.0.0.0 with their port.
func WriteSuccessReply(w io.Writer, addr net.Addr) error {
	if err := WriteReply(w, RepSuccess, addr); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

// WriteFailureReply writes a reply with code rep and a zero IPv4 bound
// address, so the first two bytes on the wire are 0x05 rep.
func WriteFailureReply(w io.Writer, rep byte) error {
	if err := WriteReply(w, rep, nil); err != nil {
		return fmt.Errorf("failure reply: %w", err)
	}
	return nil
}

// WriteReply writes VER REP RSV ATYP BND.ADDR BND.PORT with an IPv4 ATYP.
func WriteReply(w io.Writer, rep byte, addr net.Addr) error {
	ip, port := splitAddr(addr)

	pb := make([]byte, 2)
	binary.BigEndian.PutUint16(pb, port)

	_, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, ip, pb).WriteTo(w)
	return err
}

func splitAddr(addr net.Addr) (net.IP, uint16) {
	var (
		ip   net.IP
		port int
	)
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	}

	ip4 := ip.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	return ip4, uint16(port)
}
