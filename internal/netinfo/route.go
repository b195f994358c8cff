package netinfo

import (
	"errors"
	"net"
)

var ErrRouteUnsupported = errors.New("route lookup not supported on this platform")

// Route is the egress path the kernel picks for the peer.
type Route struct {
	Interface    string
	Index        int
	MTU          int
	HardwareAddr string
	Gateway      net.IP
	Source       net.IP
}
