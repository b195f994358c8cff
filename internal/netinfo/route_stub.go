//go:build !linux

package netinfo

import "net"

func LookupRoute(ip net.IP) (Route, error) {
	return Route{}, ErrRouteUnsupported
}
