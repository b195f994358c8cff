// Package netinfo gathers context about the path to the peer before a run:
// the egress route, an ICMP baseline and GeoIP data. None of it is required
// for a measurement; failures are reported and the run goes on.
package netinfo

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/NodePath81/fblink/internal/util"
)

type Options struct {
	Route     bool
	ICMPCount int
	ICMPWait  time.Duration
	GeoIPDB   string
}

// Info is everything the preflight learned. Nil parts were skipped or failed.
type Info struct {
	PeerIP net.IP
	Route  *Route
	ICMP   *PingResult
	Geo    *GeoInfo
}

// ResolvePeer returns the first address host resolves to.
func ResolvePeer(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0].IP, nil
}

// Run collects preflight information for host. It never fails the run.
func Run(ctx context.Context, host string, opts Options, logger util.Logger) Info {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	var info Info
	ip, err := ResolvePeer(ctx, host)
	if err != nil {
		logger.Warn("preflight resolve failed", "peer", host, "error", err)
		return info
	}
	info.PeerIP = ip

	if opts.Route {
		route, err := LookupRoute(ip)
		if err != nil {
			logger.Warn("preflight route lookup failed", "peer", ip.String(), "error", err)
		} else {
			info.Route = &route
			logger.Debug("egress route", "iface", route.Interface, "mtu", route.MTU, "gateway", route.Gateway.String())
		}
	}

	if opts.ICMPCount > 0 {
		res, err := Ping(ctx, ip, opts.ICMPCount, opts.ICMPWait)
		if err != nil {
			logger.Warn("preflight icmp failed", "peer", ip.String(), "error", err)
		} else {
			info.ICMP = &res
		}
	}

	if opts.GeoIPDB != "" {
		db, err := OpenGeoDB(opts.GeoIPDB)
		if err != nil {
			logger.Warn("preflight geoip unavailable", "error", err)
			return info
		}
		defer db.Close()
		geo, err := db.Lookup(ip)
		if err != nil {
			logger.Warn("preflight geoip lookup failed", "peer", ip.String(), "error", err)
		} else {
			info.Geo = &geo
		}
	}
	return info
}
