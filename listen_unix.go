//go:build unix

package netframe

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl sets SO_REUSEADDR on the listening socket before bind.
// The value is written explicitly in both directions because the runtime
// enables it by default.
func listenControl(reuseAddr bool) func(network, address string, c syscall.RawConn) error {
	value := 0
	if reuseAddr {
		value = 1
	}

	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, value)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
