package transfer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestTransferLifecycle(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := NewState(clk.now)

	ev, err := s.Apply([]byte("stray"))
	require.NoError(t, err)
	require.Equal(t, EventIgnored, ev.Kind)
	require.Equal(t, Idle, s.Phase())

	ev, err = s.Apply(StartToken)
	require.NoError(t, err)
	require.Equal(t, EventStarted, ev.Kind)
	require.Equal(t, Transferring, s.Phase())

	for i := 0; i < 4; i++ {
		ev, err = s.Apply(make([]byte, 256))
		require.NoError(t, err)
		require.Equal(t, EventData, ev.Kind)
	}
	require.EqualValues(t, 1024, s.Bytes())

	clk.t = clk.t.Add(2 * time.Second)
	ev, err = s.Apply(EndToken)
	require.NoError(t, err)
	require.Equal(t, EventFinished, ev.Kind)
	require.EqualValues(t, 1024, ev.Report.Bytes)
	require.Equal(t, 2*time.Second, ev.Report.Duration)
	require.InDelta(t, 0.5, ev.Report.KBPerSecond(), 1e-9)
	require.Equal(t, Idle, s.Phase())
	require.Zero(t, s.Bytes())
}

func TestSecondStartIsRejected(t *testing.T) {
	s := NewState(nil)
	_, err := s.Apply(StartToken)
	require.NoError(t, err)
	_, err = s.Apply([]byte("abc"))
	require.NoError(t, err)

	_, err = s.Apply(StartToken)
	require.ErrorIs(t, err, ErrTransferActive)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	require.EqualValues(t, 3, perr.Bytes)

	// the running transfer keeps its counters
	require.Equal(t, Transferring, s.Phase())
	require.EqualValues(t, 3, s.Bytes())
}

func TestEndWhileIdle(t *testing.T) {
	s := NewState(nil)
	_, err := s.Apply(EndToken)
	require.ErrorIs(t, err, ErrNoTransfer)
}

func TestCloseMidTransfer(t *testing.T) {
	s := NewState(nil)
	require.NoError(t, s.Close())

	_, err := s.Apply(StartToken)
	require.NoError(t, err)
	_, _ = s.Apply([]byte("data"))
	require.ErrorIs(t, s.Close(), ErrUnterminatedTransfer)
	require.Equal(t, Idle, s.Phase())
}

func TestTokenLookalikeDataIsControl(t *testing.T) {
	s := NewState(nil)
	_, err := s.Apply(StartToken)
	require.NoError(t, err)

	// A data chunk equal to the end token ends the transfer.
	ev, err := s.Apply([]byte("END_TRANSFER"))
	require.NoError(t, err)
	require.Equal(t, EventFinished, ev.Kind)
}

func TestZeroDurationRate(t *testing.T) {
	require.Zero(t, Report{Bytes: 10}.KBPerSecond())
}
