package socks5

import (
	"errors"
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	// Version is the only protocol version accepted.
	Version = txsocks5.Ver

	CmdConnect = txsocks5.CmdConnect
	CmdBind    = txsocks5.CmdBind
	CmdUDP     = txsocks5.CmdUDP
)

// ErrVersion is returned when a peer speaks anything other than SOCKS5.
var ErrVersion = errors.New("socks5: unsupported version")

// RequestHeader is the fixed 4-byte prefix of a SOCKS5 request.
type RequestHeader struct {
	Ver  byte
	Cmd  byte
	Rsv  byte
	Atyp byte
}

// CommandName returns a short human-readable name for cmd.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdConnect:
		return "connect"
	case CmdBind:
		return "bind"
	case CmdUDP:
		return "udp_associate"
	default:
		return "unknown"
	}
}

// ServerGreeting reads the client's method negotiation and selects "no
// authentication" regardless of the methods offered.
//
// If the version byte is not 0x05, ErrVersion is returned and nothing is
// written.
func ServerGreeting(rw io.ReadWriter) error {
	var hdr [2]byte
	if _, err := io.ReadFull(rw, hdr[:1]); err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if hdr[0] != Version {
		return fmt.Errorf("%w: %#02x", ErrVersion, hdr[0])
	}
	if _, err := io.ReadFull(rw, hdr[1:]); err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}

	methods := make([]byte, int(hdr[1]))
	if _, err := io.ReadFull(rw, methods); err != nil {
		return fmt.Errorf("read methods: %w", err)
	}

	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(rw); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// ReadRequestHeader reads VER CMD RSV ATYP.
func ReadRequestHeader(r io.Reader) (RequestHeader, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return RequestHeader{}, fmt.Errorf("read request header: %w", err)
	}
	return RequestHeader{Ver: b[0], Cmd: b[1], Rsv: b[2], Atyp: b[3]}, nil
}
