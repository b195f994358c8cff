package netinfo

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/NodePath81/fblink/internal/stats"
	"github.com/NodePath81/fblink/internal/util"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protoICMP   = 1
	protoICMPv6 = 58
)

var pingPayload = []byte("fblink")

// PingResult is the ICMP echo baseline for the peer address.
type PingResult struct {
	Sent     int
	Received int
	RTTs     []float64
	Summary  stats.Summary
}

type pinger struct {
	conn      *icmp.PacketConn
	ip        net.IP
	proto     int
	echoType  icmp.Type
	replyType icmp.Type
	id        int
	datagram  bool
	timeout   time.Duration
}

// Ping sends count ICMP echo requests to ip one after another. It uses a raw
// socket when permitted and falls back to an unprivileged datagram socket.
func Ping(ctx context.Context, ip net.IP, count int, timeout time.Duration) (PingResult, error) {
	if count <= 0 {
		return PingResult{}, nil
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	p, err := newPinger(ip, timeout)
	if err != nil {
		return PingResult{}, err
	}
	defer p.conn.Close()

	res := PingResult{}
	for seq := 1; seq <= count; seq++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Sent++
		rtt, ok := p.send(uint16(seq))
		if !ok {
			continue
		}
		res.Received++
		res.RTTs = append(res.RTTs, util.Millis(rtt))
	}
	if summary, err := stats.Compute(res.RTTs); err == nil {
		res.Summary = summary
	}
	return res, nil
}

func newPinger(ip net.IP, timeout time.Duration) (*pinger, error) {
	p := &pinger{ip: ip, id: rand.Intn(0xffff), timeout: timeout}
	rawNet, dgramNet := "ip4:icmp", "udp4"
	p.proto = protoICMP
	p.echoType, p.replyType = ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	if ip.To4() == nil {
		rawNet, dgramNet = "ip6:ipv6-icmp", "udp6"
		p.proto = protoICMPv6
		p.echoType, p.replyType = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
	}
	conn, err := icmp.ListenPacket(rawNet, "")
	if err == nil {
		p.conn = conn
		return p, nil
	}
	conn, derr := icmp.ListenPacket(dgramNet, "")
	if derr != nil {
		return nil, errors.Join(err, derr)
	}
	p.conn = conn
	p.datagram = true
	return p, nil
}

func (p *pinger) dst() net.Addr {
	if p.datagram {
		return &net.UDPAddr{IP: p.ip}
	}
	return &net.IPAddr{IP: p.ip}
}

func (p *pinger) send(seq uint16) (time.Duration, bool) {
	msg := icmp.Message{
		Type: p.echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  int(seq),
			Data: pingPayload,
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return 0, false
	}
	start := time.Now()
	if _, err := p.conn.WriteTo(payload, p.dst()); err != nil {
		return 0, false
	}
	if err := p.conn.SetReadDeadline(start.Add(p.timeout)); err != nil {
		return 0, false
	}
	buf := make([]byte, 1500)
	for {
		n, peer, err := p.conn.ReadFrom(buf)
		if err != nil {
			return 0, false
		}
		if !samePeer(peer, p.ip) {
			continue
		}
		parsed, err := icmp.ParseMessage(p.proto, buf[:n])
		if err != nil || parsed.Type != p.replyType {
			continue
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok || echo.Seq != int(seq) {
			continue
		}
		// the kernel rewrites the ID on datagram sockets
		if !p.datagram && echo.ID != p.id {
			continue
		}
		return time.Since(start), true
	}
}

func samePeer(addr net.Addr, ip net.IP) bool {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP == nil || a.IP.Equal(ip)
	case *net.UDPAddr:
		return a.IP == nil || a.IP.Equal(ip)
	default:
		return true
	}
}
