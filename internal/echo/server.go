// Package echo holds the passive side of a link measurement: a responder
// that echoes every byte back, and a sink that counts framed bulk
// transfers. Both serve one connection at a time.
package echo

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/NodePath81/fblink/internal/metrics"
	"github.com/NodePath81/fblink/internal/session"
	"github.com/NodePath81/fblink/internal/util"
)

type Config struct {
	Network string
	Addr    string
	Port    int
	// BufferSize is the largest chunk read in one call.
	BufferSize int
	// Relisten keeps accepting after a connection ends. Without it the
	// server returns after its first connection.
	Relisten bool
}

func (c Config) target() string {
	if c.Network == "unix" {
		return c.Addr
	}
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

// handler serves one connection until it ends.
type handler interface {
	serve(conn net.Conn) error
}

// Server is the single-peer accept loop shared by the responder and sink.
type Server struct {
	cfg     Config
	handler handler
	metrics *metrics.Metrics
	logger  util.Logger
	kind    string

	mu       sync.Mutex
	listener net.Listener
	active   net.Conn
	closed   bool
}

func newServer(kind string, cfg Config, h handler, m *metrics.Metrics, logger util.Logger) *Server {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	return &Server{cfg: cfg, handler: h, metrics: m, logger: logger, kind: kind}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	target := s.cfg.target()
	ln, err := net.Listen(s.cfg.Network, target)
	if err != nil {
		return &session.ConnectionError{Op: "listen", Addr: target, Err: err}
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info(s.kind+" listening", "addr", ln.Addr().String(), "network", s.cfg.Network)
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections one at a time. Canceling ctx closes the
// listener and the active connection and makes Serve return nil.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve called before listen")
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	defer s.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return &session.ConnectionError{Op: "accept", Addr: s.cfg.target(), Err: err}
		}
		s.handle(conn)
		if !s.cfg.Relisten || s.isClosed() {
			return nil
		}
	}
}

func (s *Server) handle(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.active = conn
	s.mu.Unlock()

	s.metrics.ConnOpened()
	s.logger.Info("peer connected", "peer", peer)
	err := s.handler.serve(conn)
	_ = conn.Close()
	s.metrics.ConnClosed()

	s.mu.Lock()
	s.active = nil
	closed := s.closed
	s.mu.Unlock()
	if err != nil && !closed {
		s.logger.Warn("connection ended with error", "peer", peer, "error", err)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the listener and drops the active connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln, active := s.listener, s.active
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		s.logger.Info(s.kind+" stopped", "addr", s.cfg.target())
	}
	if active != nil {
		_ = active.Close()
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
