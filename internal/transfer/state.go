// Package transfer tracks bulk transfers bracketed by in-band control
// tokens and carries them over a length-prefixed frame codec.
//
// The tokens travel as ordinary payloads, so a data frame whose bytes equal
// a token is read as control. The codec gives message boundaries on a byte
// stream; it does not separate control from data.
package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

var (
	StartToken = []byte("START_TRANSFER")
	EndToken   = []byte("END_TRANSFER")
)

var (
	// ErrTransferActive rejects a start token while a transfer is running.
	ErrTransferActive = errors.New("start received while transfer active")
	// ErrNoTransfer rejects an end token while idle.
	ErrNoTransfer = errors.New("end received while idle")
	// ErrUnterminatedTransfer reports a connection that ended mid-transfer.
	ErrUnterminatedTransfer = errors.New("connection closed during transfer")
)

// ProtocolError wraps one of the sentinel errors above with the state it
// was raised in.
type ProtocolError struct {
	Err   error
	Bytes int64
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("transfer protocol: %v (after %d bytes)", e.Err, e.Bytes)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

type Phase int

const (
	Idle Phase = iota
	Transferring
)

func (p Phase) String() string {
	if p == Transferring {
		return "transferring"
	}
	return "idle"
}

type EventKind int

const (
	EventNone EventKind = iota
	EventStarted
	EventData
	EventFinished
	EventIgnored
)

// Event describes what a payload did to the state.
type Event struct {
	Kind   EventKind
	Bytes  int
	Report Report
}

// Report summarizes a finished transfer.
type Report struct {
	Bytes    int64
	Duration time.Duration
}

// KBPerSecond is the transfer rate in kilobytes (1024) per second, zero
// when no time elapsed.
func (r Report) KBPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Bytes) / 1024 / r.Duration.Seconds()
}

// State is owned by one connection handler; it is not safe for concurrent use.
type State struct {
	phase   Phase
	bytes   int64
	started time.Time
	now     func() time.Time
}

func NewState(now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	return &State{now: now}
}

func (s *State) Phase() Phase {
	return s.phase
}

// Bytes is the data counted by the running transfer.
func (s *State) Bytes() int64 {
	return s.bytes
}

// Apply feeds one payload. Data while idle is ignored.
func (s *State) Apply(payload []byte) (Event, error) {
	switch {
	case bytes.Equal(payload, StartToken):
		if s.phase == Transferring {
			return Event{}, &ProtocolError{Err: ErrTransferActive, Bytes: s.bytes}
		}
		s.phase = Transferring
		s.bytes = 0
		s.started = s.now()
		return Event{Kind: EventStarted}, nil
	case bytes.Equal(payload, EndToken):
		if s.phase != Transferring {
			return Event{}, &ProtocolError{Err: ErrNoTransfer}
		}
		report := Report{Bytes: s.bytes, Duration: s.now().Sub(s.started)}
		s.reset()
		return Event{Kind: EventFinished, Report: report}, nil
	case s.phase == Transferring:
		s.bytes += int64(len(payload))
		return Event{Kind: EventData, Bytes: len(payload)}, nil
	default:
		return Event{Kind: EventIgnored, Bytes: len(payload)}, nil
	}
}

// Close ends the state when the connection goes away.
func (s *State) Close() error {
	if s.phase != Transferring {
		return nil
	}
	err := &ProtocolError{Err: ErrUnterminatedTransfer, Bytes: s.bytes}
	s.reset()
	return err
}

func (s *State) reset() {
	s.phase = Idle
	s.bytes = 0
	s.started = time.Time{}
}
