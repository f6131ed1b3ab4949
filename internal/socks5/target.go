package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// ErrAddressNotSupported is returned by ReadTarget for any ATYP other than
// IPv4 or domain name.
var ErrAddressNotSupported = errors.New("socks5: address type not supported")

// AddrKind identifies how a Target's host was encoded on the wire.
type AddrKind byte

const (
	KindIPv4   AddrKind = AddrKind(txsocks5.ATYPIPv4)
	KindDomain AddrKind = AddrKind(txsocks5.ATYPDomain)
)

func (k AddrKind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindDomain:
		return "domain"
	default:
		return fmt.Sprintf("atyp(%#02x)", byte(k))
	}
}

// Target is a decoded SOCKS5 destination.
type Target struct {
	Kind AddrKind
	Host string
	Port uint16
}

// Address returns host:port suitable for net.Dial.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

func (t Target) String() string {
	return t.Address()
}

// ReadTarget decodes DST.ADDR and DST.PORT from r. atyp is the address type
// byte already consumed as part of the request header.
//
// If atyp is unsupported, nothing further is read from r and
// ErrAddressNotSupported is returned.
func ReadTarget(r io.Reader, atyp byte) (Target, error) {
	var t Target

	switch atyp {
	case txsocks5.ATYPIPv4:
		b := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(r, b); err != nil {
			return t, fmt.Errorf("read ipv4 address: %w", err)
		}
		t.Kind = KindIPv4
		t.Host = net.IP(b).String()
	case txsocks5.ATYPDomain:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return t, fmt.Errorf("read domain length: %w", err)
		}
		b := make([]byte, int(n[0]))
		if _, err := io.ReadFull(r, b); err != nil {
			return t, fmt.Errorf("read domain: %w", err)
		}
		t.Kind = KindDomain
		t.Host = string(b)
	default:
		return t, ErrAddressNotSupported
	}

	var pb [2]byte
	if _, err := io.ReadFull(r, pb[:]); err != nil {
		return t, fmt.Errorf("read port: %w", err)
	}
	t.Port = binary.BigEndian.Uint16(pb[:])

	return t, nil
}
