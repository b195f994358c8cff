package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/NodePath81/fblink/internal/util"
)

const timestampSize = 8

type LatencyConfig struct {
	Count       int
	PayloadSize int
	// Delay is slept between pings.
	Delay time.Duration
	// Timeout bounds the wait for each echo. A ping that times out is lost.
	// Zero waits forever.
	Timeout  time.Duration
	OnSample func(LatencySample) error
	Logger   util.Logger
}

// EncodePing builds a latency packet: the send time as a big-endian IEEE-754
// seconds value followed by 'x' padding up to size.
func EncodePing(ts time.Time, size int) []byte {
	pkt := bytes.Repeat([]byte{'x'}, size)
	secs := float64(ts.UnixNano()) / 1e9
	binary.BigEndian.PutUint64(pkt, math.Float64bits(secs))
	return pkt
}

// DecodePing returns the send time carried by a latency packet.
func DecodePing(pkt []byte) (float64, error) {
	if len(pkt) < timestampSize {
		return 0, ErrPayloadTooSmall
	}
	return math.Float64frombits(binary.BigEndian.Uint64(pkt)), nil
}

// latencyRun tracks echo bytes the peer still owes for earlier pings. The
// link is a byte stream, so a late echo must be skipped before the next
// reply can be read.
type latencyRun struct {
	link   Link
	cfg    LatencyConfig
	logger util.Logger
	owed   int64
	echo   []byte
}

// RunLatency sends cfg.Count pings one at a time and returns one sample per
// ping in sequence order. Transport failures mark the sample lost and the run
// continues.
func RunLatency(ctx context.Context, link Link, cfg LatencyConfig) ([]LatencySample, error) {
	if cfg.Count < 0 {
		return nil, ErrInvalidCount
	}
	if cfg.PayloadSize < timestampSize {
		return nil, ErrPayloadTooSmall
	}
	if cfg.Count == 0 {
		return []LatencySample{}, nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = util.DiscardLogger()
	}
	run := &latencyRun{
		link:   link,
		cfg:    cfg,
		logger: logger,
		echo:   make([]byte, cfg.PayloadSize),
	}
	defer func() { _ = link.SetReadDeadline(time.Time{}) }()

	samples := make([]LatencySample, 0, cfg.Count)
	for seq := 0; seq < cfg.Count; seq++ {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		if seq > 0 && cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return samples, ctx.Err()
			case <-time.After(cfg.Delay):
			}
		}
		sample := run.ping(seq)
		samples = append(samples, sample)
		if cfg.OnSample != nil {
			if err := cfg.OnSample(sample); err != nil {
				return samples, fmt.Errorf("record latency: %w", err)
			}
		}
	}
	return samples, nil
}

func (r *latencyRun) ping(seq int) LatencySample {
	lost := LatencySample{Seq: seq, Lost: true}

	start := time.Now()
	pkt := EncodePing(start, r.cfg.PayloadSize)
	n, err := r.link.Write(pkt)
	r.owed += int64(n)
	if err != nil {
		r.logger.Debug("ping lost", "seq", seq, "op", "write", "error", err)
		return lost
	}

	var deadline time.Time
	if r.cfg.Timeout > 0 {
		deadline = start.Add(r.cfg.Timeout)
	}
	if err := r.link.SetReadDeadline(deadline); err != nil {
		r.logger.Debug("ping lost", "seq", seq, "op", "deadline", "error", err)
		return lost
	}

	if stale := r.owed - int64(len(r.echo)); stale > 0 {
		skipped, err := io.CopyN(io.Discard, r.link, stale)
		r.owed -= skipped
		if err != nil {
			r.logger.Debug("ping lost", "seq", seq, "op", "skip stale echo", "error", err)
			return lost
		}
	}

	got, err := io.ReadFull(r.link, r.echo)
	r.owed -= int64(got)
	if err != nil {
		r.logger.Debug("ping lost", "seq", seq, "op", "read", "bytes", got, "error", err)
		return lost
	}
	rtt := time.Since(start)
	if !bytes.Equal(r.echo[:timestampSize], pkt[:timestampSize]) {
		r.logger.Debug("ping lost", "seq", seq, "op", "verify", "error", "timestamp mismatch")
		return lost
	}
	return LatencySample{Seq: seq, RTTMs: util.Millis(rtt)}
}
