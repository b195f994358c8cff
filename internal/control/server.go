// Package control serves live run state over HTTP: Prometheus metrics and
// a websocket stream of run events.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/NodePath81/fblink/internal/metrics"
	"github.com/NodePath81/fblink/internal/util"
	"github.com/NodePath81/fblink/internal/version"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

type Config struct {
	BindAddr string
	BindPort int
}

type ControlServer struct {
	cfg     Config
	metrics *metrics.Metrics
	hub     *StatusHub
	logger  util.Logger
	server  *http.Server

	mu   sync.Mutex
	addr net.Addr
}

func NewControlServer(cfg Config, m *metrics.Metrics, hub *StatusHub, logger util.Logger) *ControlServer {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &ControlServer{cfg: cfg, metrics: m, hub: hub, logger: logger}
}

func (c *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())
	mux.HandleFunc("/status", c.handleStatus)
	mux.HandleFunc("/identity", c.handleIdentity)
	return mux
}

// Start binds the listener and serves until ctx is done.
func (c *ControlServer) Start(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.BindAddr, strconv.Itoa(c.cfg.BindPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.addr = ln.Addr()
	c.mu.Unlock()
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server error", "error", err)
		}
	}()
	c.logger.Info("control server started", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address once started.
func (c *ControlServer) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *ControlServer) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

func (c *ControlServer) handleIdentity(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":    "fblink",
		"version": version.Version,
	})
}

// handleStatus streams hub events to one websocket client. The read side
// only exists to process pongs and notice the client going away.
func (c *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	client := &statusClient{send: make(chan []byte, 64)}
	c.hub.Register(client)

	var closeOnce sync.Once
	done := make(chan struct{})
	cleanup := func() {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close()
			c.hub.Unregister(client)
		})
	}

	go func() {
		defer cleanup()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-client.send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}
