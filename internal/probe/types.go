// Package probe drives the echo measurements over an established link.
//
// Probes borrow the link for the duration of one call and never retain it.
// They run strictly one after another on the same link; each request waits
// for its echo before the next one is sent.
package probe

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrInvalidPayload rejects a throughput or bulk payload size <= 0.
	ErrInvalidPayload = errors.New("payload size must be > 0")
	// ErrPayloadTooSmall rejects a latency payload that cannot hold the timestamp.
	ErrPayloadTooSmall = errors.New("latency payload must be at least 8 bytes")
	// ErrInvalidCount rejects a negative ping count.
	ErrInvalidCount = errors.New("count must be >= 0")
)

// Link is the part of a session the probes need.
type Link interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// ThroughputRecord is one completed round trip of the throughput probe.
type ThroughputRecord struct {
	// Elapsed is the time since the probe started.
	Elapsed time.Duration
	// SentBytes is the cumulative payload bytes written.
	SentBytes int64
	// RecvBytes is the cumulative echo bytes read back.
	RecvBytes int64
}

// LatencySample is the outcome of one ping.
type LatencySample struct {
	Seq   int
	RTTMs float64
	Lost  bool
}

// RTTs returns the round-trip times of the samples that were not lost.
func RTTs(samples []LatencySample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !s.Lost {
			out = append(out, s.RTTMs)
		}
	}
	return out
}
