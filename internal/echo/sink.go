package echo

import (
	"errors"
	"io"
	"net"

	"github.com/NodePath81/fblink/internal/metrics"
	"github.com/NodePath81/fblink/internal/transfer"
	"github.com/NodePath81/fblink/internal/util"
)

// NewSink returns a server that counts bulk transfers. onReport, when set,
// is called for every finished transfer.
func NewSink(cfg Config, m *metrics.Metrics, logger util.Logger, onReport func(transfer.Report)) *Server {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	h := &sinkHandler{metrics: m, logger: logger, onReport: onReport}
	return newServer("sink", cfg, h, m, logger)
}

type sinkHandler struct {
	metrics  *metrics.Metrics
	logger   util.Logger
	onReport func(transfer.Report)
}

// serve keeps one transfer state per connection. Protocol errors are
// logged and the connection continues.
func (h *sinkHandler) serve(conn net.Conn) error {
	peer := conn.RemoteAddr().String()
	state := transfer.NewState(nil)
	buf := make([]byte, 64*1024)
	for {
		frame, err := transfer.ReadFrame(conn, buf)
		if err != nil {
			if cerr := state.Close(); cerr != nil {
				h.metrics.TransferDone("unterminated", 0)
				h.logger.Warn("transfer not terminated", "peer", peer, "error", cerr)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if cap(frame) > cap(buf) {
			buf = frame
		}
		ev, err := state.Apply(frame)
		if err != nil {
			h.metrics.TransferDone("rejected", 0)
			h.logger.Warn("transfer control rejected", "peer", peer, "error", err)
			continue
		}
		switch ev.Kind {
		case transfer.EventStarted:
			h.logger.Info("transfer started", "peer", peer)
		case transfer.EventData:
			h.metrics.AddTransferBytes(ev.Bytes)
		case transfer.EventFinished:
			rate := ev.Report.KBPerSecond()
			h.metrics.TransferDone("finished", rate)
			h.logger.Info("transfer finished", "peer", peer,
				"bytes", ev.Report.Bytes,
				"duration", ev.Report.Duration.String(),
				"kbps", rate)
			if h.onReport != nil {
				h.onReport(ev.Report)
			}
		case transfer.EventIgnored:
			h.logger.Debug("data outside transfer ignored", "peer", peer, "bytes", ev.Bytes)
		}
	}
}
