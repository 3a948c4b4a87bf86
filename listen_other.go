//go:build !unix

package netframe

import "syscall"

// listenControl leaves socket options at the platform defaults.
func listenControl(reuseAddr bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
