package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/NodePath81/fblink/internal/util"
)

// Config selects the peer. Port is the channel selector; it is ignored for
// unix stream sockets where Address is the socket path.
type Config struct {
	Network     string
	Address     string
	Port        int
	DialTimeout time.Duration
	// IOTimeout bounds every read and write that has no explicit deadline.
	// Zero means unbounded.
	IOTimeout time.Duration
}

func (c Config) target() string {
	if c.Network == "unix" {
		return c.Address
	}
	return util.NetJoin(c.Address, c.Port)
}

// Session owns the single connection the probes run on.
type Session struct {
	cfg    Config
	conn   net.Conn
	logger util.Logger

	mu               sync.Mutex
	closed           bool
	explicitDeadline bool
	closeOnce        sync.Once
	closeErr         error
}

// Establish performs exactly one connection attempt.
func Establish(ctx context.Context, cfg Config, logger util.Logger) (*Session, error) {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	target := cfg.target()
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, cfg.Network, target)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: target, Err: err}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	logger.Info("session established", "peer", target, "local", conn.LocalAddr().String())
	return New(conn, cfg, logger), nil
}

// New wraps an already connected conn.
func New(conn net.Conn, cfg Config, logger util.Logger) *Session {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Session{cfg: cfg, conn: conn, logger: logger}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Read(p []byte) (int, error) {
	if s.isClosed() {
		return 0, ErrSessionClosed
	}
	s.mu.Lock()
	explicit := s.explicitDeadline
	s.mu.Unlock()
	if !explicit && s.cfg.IOTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return 0, err
		}
	}
	return s.conn.Read(p)
}

// Write sends all of p.
func (s *Session) Write(p []byte) (int, error) {
	if s.isClosed() {
		return 0, ErrSessionClosed
	}
	if s.cfg.IOTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return 0, err
		}
	}
	return s.conn.Write(p)
}

// SetReadDeadline installs an explicit read deadline that takes precedence
// over IOTimeout. The zero time clears it.
func (s *Session) SetReadDeadline(t time.Time) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	s.explicitDeadline = !t.IsZero()
	s.mu.Unlock()
	return s.conn.SetReadDeadline(t)
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// TCPStats snapshots TCP_INFO for the underlying connection.
func (s *Session) TCPStats() (TCPStats, error) {
	if s.isClosed() {
		return TCPStats{}, ErrSessionClosed
	}
	tcp, ok := s.conn.(*net.TCPConn)
	if !ok {
		return TCPStats{}, ErrTCPInfoUnsupported
	}
	return ReadTCPStats(tcp)
}

// Close releases the transport. Calls after the first are no-ops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.conn.Close()
		s.logger.Info("session closed", "peer", s.cfg.target())
	})
	return s.closeErr
}
