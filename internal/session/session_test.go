package session

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenEcho(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestEstablishAndEcho(t *testing.T) {
	host, port := listenEcho(t)
	s, err := Establish(context.Background(), Config{Network: "tcp", Address: host, Port: port, DialTimeout: time.Second}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestEstablishRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Establish(context.Background(), Config{Address: "127.0.0.1", Port: port, DialTimeout: time.Second}, nil)
	require.Error(t, err)
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	require.Equal(t, "dial", connErr.Op)
}

func TestCloseIsIdempotent(t *testing.T) {
	host, port := listenEcho(t)
	s, err := Establish(context.Background(), Config{Address: host, Port: port}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Write([]byte("x"))
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrSessionClosed)
	require.ErrorIs(t, s.SetReadDeadline(time.Now()), ErrSessionClosed)
}

func TestIOTimeoutBoundsReads(t *testing.T) {
	host, port := listenEcho(t)
	s, err := Establish(context.Background(), Config{Address: host, Port: port, IOTimeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	_, err = s.Read(make([]byte, 1))
	require.Error(t, err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	require.True(t, netErr.Timeout())
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestExplicitDeadlineOverridesIOTimeout(t *testing.T) {
	host, port := listenEcho(t)
	s, err := Establish(context.Background(), Config{Address: host, Port: port, IOTimeout: time.Hour}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetReadDeadline(time.Now().Add(30*time.Millisecond)))
	_, err = s.Read(make([]byte, 1))
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	require.True(t, netErr.Timeout())
}

func TestTCPStats(t *testing.T) {
	host, port := listenEcho(t)
	s, err := Establish(context.Background(), Config{Address: host, Port: port}, nil)
	require.NoError(t, err)
	defer s.Close()

	stats, err := s.TCPStats()
	if runtime.GOOS != "linux" {
		require.ErrorIs(t, err, ErrTCPInfoUnsupported)
		return
	}
	require.NoError(t, err)
	require.NotZero(t, stats.MSS)
}
