//go:build linux

package netinfo

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// LookupRoute asks the kernel which interface traffic to ip leaves through.
func LookupRoute(ip net.IP) (Route, error) {
	routes, err := netlink.RouteGet(ip)
	if err != nil {
		return Route{}, fmt.Errorf("route get %s: %w", ip, err)
	}
	if len(routes) == 0 {
		return Route{}, errors.New("no route to " + ip.String())
	}
	r := routes[0]
	out := Route{Index: r.LinkIndex, Gateway: r.Gw, Source: r.Src}
	link, err := netlink.LinkByIndex(r.LinkIndex)
	if err != nil {
		return out, fmt.Errorf("link %d: %w", r.LinkIndex, err)
	}
	attrs := link.Attrs()
	out.Interface = attrs.Name
	out.MTU = attrs.MTU
	out.HardwareAddr = attrs.HardwareAddr.String()
	return out, nil
}
