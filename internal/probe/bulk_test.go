package probe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/NodePath81/fblink/internal/session"
	"github.com/NodePath81/fblink/internal/transfer"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func readFrames(t *testing.T, r io.Reader) [][]byte {
	t.Helper()
	var frames [][]byte
	for {
		frame, err := transfer.ReadFrame(r, nil)
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, append([]byte(nil), frame...))
	}
}

func TestBulkFraming(t *testing.T) {
	var buf bytes.Buffer
	res, err := RunBulk(context.Background(), &buf, BulkConfig{TotalSize: 2500, ChunkSize: 1024})
	require.NoError(t, err)
	require.EqualValues(t, 2500, res.SentBytes)
	require.Equal(t, 3, res.Chunks)

	frames := readFrames(t, &buf)
	require.Len(t, frames, 5)
	require.Equal(t, transfer.StartToken, frames[0])
	require.Len(t, frames[1], 1024)
	require.Len(t, frames[2], 1024)
	require.Len(t, frames[3], 452)
	require.Equal(t, transfer.EndToken, frames[4])
}

func TestBulkFeedsTransferState(t *testing.T) {
	var buf bytes.Buffer
	_, err := RunBulk(context.Background(), &buf, BulkConfig{TotalSize: 10_000, ChunkSize: 700})
	require.NoError(t, err)

	state := transfer.NewState(nil)
	var report transfer.Report
	for _, frame := range readFrames(t, &buf) {
		ev, err := state.Apply(frame)
		require.NoError(t, err)
		if ev.Kind == transfer.EventFinished {
			report = ev.Report
		}
	}
	require.EqualValues(t, 10_000, report.Bytes)
}

func TestBulkEmptyTransfer(t *testing.T) {
	var buf bytes.Buffer
	res, err := RunBulk(context.Background(), &buf, BulkConfig{TotalSize: 0, ChunkSize: 64})
	require.NoError(t, err)
	require.Zero(t, res.Chunks)
	require.Len(t, readFrames(t, &buf), 2)
}

func TestBulkRate(t *testing.T) {
	mock := clock.NewMock()
	var buf bytes.Buffer
	res, err := RunBulk(context.Background(), &buf, BulkConfig{
		TotalSize: 4096,
		ChunkSize: 1024,
		Delay:     250 * time.Millisecond,
		Clock:     sleeper{mock},
	})
	require.NoError(t, err)
	require.Equal(t, 750*time.Millisecond, res.Elapsed)
	require.InDelta(t, 4.0/0.75, res.KBPerSecond(), 1e-9)
}

func TestBulkValidation(t *testing.T) {
	_, err := RunBulk(context.Background(), io.Discard, BulkConfig{TotalSize: 1, ChunkSize: 0})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestBulkWriteFailure(t *testing.T) {
	_, err := RunBulk(context.Background(), failWriter{}, BulkConfig{TotalSize: 10, ChunkSize: 10})
	var te *session.TransportError
	require.True(t, errors.As(err, &te))
}

// sleeper advances the mock instead of blocking in Sleep.
type sleeper struct{ *clock.Mock }

func (s sleeper) Sleep(d time.Duration) { s.Add(d) }

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
