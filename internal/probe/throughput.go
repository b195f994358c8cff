package probe

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/NodePath81/fblink/internal/session"
	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
)

// minElapsed keeps the rate finite for runs that finish within one clock tick.
const minElapsed = time.Microsecond

type ThroughputConfig struct {
	PayloadSize int
	// Duration bounds the loop. It is checked between round trips, so the
	// run may overrun by one round trip. Zero or negative runs nothing.
	Duration time.Duration
	// OnRecord, when set, sees every record as soon as it exists. An error
	// aborts the run.
	OnRecord func(ThroughputRecord) error
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

type ThroughputResult struct {
	Records   []ThroughputRecord
	SentBytes int64
	RecvBytes int64
	Elapsed   time.Duration
	// Mismatches counts echoes whose content differed from the payload.
	Mismatches int
}

// MbitPerSecond is the received rate in megabits (10^6) per second.
func (r ThroughputResult) MbitPerSecond() float64 {
	elapsed := r.Elapsed
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	return float64(r.RecvBytes) * 8 / 1e6 / elapsed.Seconds()
}

// RunThroughput repeats write-payload/read-echo round trips until the
// configured duration has passed. A transport failure aborts the run with a
// *session.TransportError and no result.
func RunThroughput(ctx context.Context, link Link, cfg ThroughputConfig) (*ThroughputResult, error) {
	if cfg.PayloadSize <= 0 {
		return nil, ErrInvalidPayload
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	payload := make([]byte, cfg.PayloadSize)
	if _, err := rand.Read(payload); err != nil {
		return nil, fmt.Errorf("generate payload: %w", err)
	}
	want := xxhash.Sum64(payload)
	echo := make([]byte, cfg.PayloadSize)

	res := &ThroughputResult{}
	start := clk.Now()
	deadline := start.Add(cfg.Duration)
	for clk.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := link.Write(payload)
		if err != nil {
			return nil, &session.TransportError{Op: "write payload", Err: err}
		}
		res.SentBytes += int64(n)

		m, err := io.ReadFull(link, echo)
		if err != nil {
			return nil, &session.TransportError{Op: "read echo", Err: err}
		}
		res.RecvBytes += int64(m)
		if xxhash.Sum64(echo) != want {
			res.Mismatches++
		}

		rec := ThroughputRecord{
			Elapsed:   clk.Since(start),
			SentBytes: res.SentBytes,
			RecvBytes: res.RecvBytes,
		}
		res.Records = append(res.Records, rec)
		if cfg.OnRecord != nil {
			if err := cfg.OnRecord(rec); err != nil {
				return nil, fmt.Errorf("record throughput: %w", err)
			}
		}
	}
	res.Elapsed = clk.Since(start)
	return res, nil
}
