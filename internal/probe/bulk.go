package probe

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NodePath81/fblink/internal/session"
	"github.com/NodePath81/fblink/internal/transfer"
	"github.com/benbjohnson/clock"
)

type BulkConfig struct {
	TotalSize int64
	ChunkSize int
	// Delay is slept between chunks to pace slow links.
	Delay time.Duration
	Clock clock.Clock
}

type BulkResult struct {
	SentBytes int64
	Chunks    int
	Elapsed   time.Duration
}

// KBPerSecond is the send rate in kilobytes (1024) per second.
func (r BulkResult) KBPerSecond() float64 {
	elapsed := r.Elapsed
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	return float64(r.SentBytes) / 1024 / elapsed.Seconds()
}

// RunBulk streams TotalSize bytes of framed data bracketed by the start and
// end tokens. Nothing is read back.
func RunBulk(ctx context.Context, w io.Writer, cfg BulkConfig) (*BulkResult, error) {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > transfer.MaxFrameSize {
		return nil, ErrInvalidPayload
	}
	if cfg.TotalSize < 0 {
		return nil, errors.New("total size must be >= 0")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	chunk := make([]byte, cfg.ChunkSize)
	if _, err := rand.Read(chunk); err != nil {
		return nil, fmt.Errorf("generate payload: %w", err)
	}

	start := clk.Now()
	if err := transfer.WriteFrame(w, transfer.StartToken); err != nil {
		return nil, &session.TransportError{Op: "write start", Err: err}
	}
	res := &BulkResult{}
	for res.SentBytes < cfg.TotalSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res.Chunks > 0 && cfg.Delay > 0 {
			clk.Sleep(cfg.Delay)
		}
		size := int64(len(chunk))
		if remaining := cfg.TotalSize - res.SentBytes; remaining < size {
			size = remaining
		}
		if err := transfer.WriteFrame(w, chunk[:size]); err != nil {
			return nil, &session.TransportError{Op: "write chunk", Err: err}
		}
		res.SentBytes += size
		res.Chunks++
	}
	if err := transfer.WriteFrame(w, transfer.EndToken); err != nil {
		return nil, &session.TransportError{Op: "write end", Err: err}
	}
	res.Elapsed = clk.Since(start)
	return res, nil
}
