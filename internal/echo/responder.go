package echo

import (
	"errors"
	"io"
	"net"

	"github.com/NodePath81/fblink/internal/metrics"
	"github.com/NodePath81/fblink/internal/util"
)

const defaultBufferSize = 4096

// NewResponder returns a server that writes back every byte it reads.
func NewResponder(cfg Config, m *metrics.Metrics, logger util.Logger) *Server {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	h := &echoHandler{bufSize: size, metrics: m, logger: logger}
	return newServer("echo responder", cfg, h, m, logger)
}

type echoHandler struct {
	bufSize int
	metrics *metrics.Metrics
	logger  util.Logger
}

func (h *echoHandler) serve(conn net.Conn) error {
	buf := make([]byte, h.bufSize)
	n, err := Echo(conn, buf, h.metrics.AddEchoed)
	h.logger.Info("peer disconnected", "peer", conn.RemoteAddr().String(), "echoed", util.FormatBytes(float64(n)))
	return err
}

// Echo copies everything read from rw back to it, one read at a time, until
// the peer closes. It returns the byte count echoed; a clean EOF is not an
// error. onChunk, when set, sees the size of every echoed chunk.
func Echo(rw io.ReadWriter, buf []byte, onChunk func(int)) (int64, error) {
	var total int64
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			w, werr := rw.Write(buf[:n])
			total += int64(w)
			if onChunk != nil {
				onChunk(w)
			}
			if werr != nil {
				return total, werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}
