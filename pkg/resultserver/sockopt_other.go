//go:build !unix

package resultserver

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
