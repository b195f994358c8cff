package util

import (
	"net"
	"strconv"
)

// NetJoin joins host and port. Non-positive ports yield the bare host so
// unix socket paths pass through unchanged.
func NetJoin(host string, port int) string {
	if port <= 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
