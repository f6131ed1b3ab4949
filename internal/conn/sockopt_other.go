//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package conn

import (
	"errors"
	"syscall"
)

// ReusePortSupported reports whether ListenTCP can honor reusePort.
const ReusePortSupported = false

func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return errors.New("SO_REUSEPORT not supported")
}
