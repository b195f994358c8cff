package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/NodePath81/fblink/internal/stats"
	"github.com/stretchr/testify/require"
)

func TestLatencyAgainstDelayedEcho(t *testing.T) {
	conn := servePeer(t, echoFrames(64, 0, func(int) { time.Sleep(2 * time.Millisecond) }))

	var committed []LatencySample
	samples, err := RunLatency(context.Background(), conn, LatencyConfig{
		Count:       5,
		PayloadSize: 64,
		Timeout:     2 * time.Second,
		OnSample: func(s LatencySample) error {
			committed = append(committed, s)
			return nil
		},
	})
	require.NoError(t, err)
	require.Len(t, samples, 5)
	require.Equal(t, samples, committed)
	for i, s := range samples {
		require.Equal(t, i, s.Seq)
		require.False(t, s.Lost)
		require.GreaterOrEqual(t, s.RTTMs, 2.0)
		require.Less(t, s.RTTMs, 500.0)
	}

	sess, err := stats.ForSession(RTTs(samples), len(samples))
	require.NoError(t, err)
	require.Zero(t, sess.LossCount)
	require.Equal(t, 5, sess.TotalAttempts)
	for _, v := range []float64{sess.Mean, sess.Median, sess.P95, sess.P99, sess.Min, sess.Max} {
		require.GreaterOrEqual(t, v, 2.0)
		require.Less(t, v, 500.0)
	}
}

func TestLatencyPeerClosesEarly(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		echoFrames(64, 2, nil)(server)
		_ = server.Close()
	}()

	samples, err := RunLatency(context.Background(), client, LatencyConfig{Count: 5, PayloadSize: 64})
	require.NoError(t, err)
	require.Len(t, samples, 5)

	lost := 0
	for i, s := range samples {
		require.Equal(t, i, s.Seq)
		if s.Lost {
			lost++
			require.GreaterOrEqual(t, i, 2)
		}
	}
	require.Equal(t, 3, lost)
	require.Len(t, RTTs(samples), 2)
}

func TestLatencyStalledEchoIsLostAndSkipped(t *testing.T) {
	conn := servePeer(t, echoFrames(32, 0, func(i int) {
		if i == 1 {
			time.Sleep(200 * time.Millisecond)
		}
	}))

	samples, err := RunLatency(context.Background(), conn, LatencyConfig{
		Count:       4,
		PayloadSize: 32,
		Timeout:     50 * time.Millisecond,
		Delay:       300 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, samples, 4)
	require.False(t, samples[0].Lost)
	require.True(t, samples[1].Lost)
	require.False(t, samples[2].Lost)
	require.False(t, samples[3].Lost)
	// the late echo for seq 1 must not be taken as the reply to seq 2
	require.Less(t, samples[2].RTTMs, 150.0)
}

func TestLatencyCorruptedTimestampIsLost(t *testing.T) {
	conn := servePeer(t, func(c net.Conn) {
		buf := make([]byte, 16)
		for i := 0; ; i++ {
			if _, err := io.ReadFull(c, buf); err != nil {
				return
			}
			if i == 0 {
				buf[0] ^= 0x01
			}
			if _, err := c.Write(buf); err != nil {
				return
			}
		}
	})

	samples, err := RunLatency(context.Background(), conn, LatencyConfig{Count: 2, PayloadSize: 16, Timeout: time.Second})
	require.NoError(t, err)
	require.True(t, samples[0].Lost)
	require.False(t, samples[1].Lost)
}

func TestLatencyZeroCount(t *testing.T) {
	samples, err := RunLatency(context.Background(), nil, LatencyConfig{Count: 0, PayloadSize: 64})
	require.NoError(t, err)
	require.NotNil(t, samples)
	require.Empty(t, samples)
}

func TestLatencyZeroCountSendsNothing(t *testing.T) {
	received := make(chan int64, 1)
	conn := servePeer(t, func(c net.Conn) {
		n, _ := io.Copy(io.Discard, c)
		received <- n
	})

	samples, err := RunLatency(context.Background(), conn, LatencyConfig{Count: 0, PayloadSize: 64, Timeout: time.Second})
	require.NoError(t, err)
	require.Empty(t, samples)
	_, err = stats.ForSession(RTTs(samples), len(samples))
	require.ErrorIs(t, err, stats.ErrNoSamples)

	require.NoError(t, conn.Close())
	select {
	case n := <-received:
		require.Zero(t, n)
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not see the close")
	}
}

func TestLatencyValidation(t *testing.T) {
	_, err := RunLatency(context.Background(), nil, LatencyConfig{Count: -1, PayloadSize: 64})
	require.ErrorIs(t, err, ErrInvalidCount)

	_, err = RunLatency(context.Background(), nil, LatencyConfig{Count: 1, PayloadSize: 7})
	require.ErrorIs(t, err, ErrPayloadTooSmall)
}

func TestLatencyCallbackErrorStops(t *testing.T) {
	conn := servePeer(t, echoFrames(8, 0, nil))
	boom := errors.New("log closed")

	samples, err := RunLatency(context.Background(), conn, LatencyConfig{
		Count:       3,
		PayloadSize: 8,
		OnSample:    func(LatencySample) error { return boom },
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, samples, 1)
}
