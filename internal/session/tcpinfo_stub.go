//go:build !linux

package session

import "net"

func ReadTCPStats(_ *net.TCPConn) (TCPStats, error) {
	return TCPStats{}, ErrTCPInfoUnsupported
}
