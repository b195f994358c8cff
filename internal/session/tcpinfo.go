package session

import "time"

// TCPStats captures the kernel's view of the session from TCP_INFO.
type TCPStats struct {
	Retransmits  uint64
	SegmentsSent uint64

	// Smoothed RTT and its variance as tracked by the TCP stack.
	RTT    time.Duration
	RTTVar time.Duration

	RTO time.Duration
	MSS uint32
}
