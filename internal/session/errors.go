package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by I/O on a session after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrTCPInfoUnsupported is returned when TCP_INFO cannot be read on this platform or transport.
	ErrTCPInfoUnsupported = errors.New("tcp_info not supported")
)

// ConnectionError is a connect/bind/listen/accept failure. It is fatal to
// the run and never retried.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransportError is a send/receive failure on an established session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
