// Package app wires configuration, preflight, the link session, the probes
// and the measurement log into one run.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NodePath81/fblink/internal/config"
	"github.com/NodePath81/fblink/internal/control"
	"github.com/NodePath81/fblink/internal/metrics"
	"github.com/NodePath81/fblink/internal/netinfo"
	"github.com/NodePath81/fblink/internal/probe"
	"github.com/NodePath81/fblink/internal/record"
	"github.com/NodePath81/fblink/internal/session"
	"github.com/NodePath81/fblink/internal/stats"
	"github.com/NodePath81/fblink/internal/util"
	"github.com/google/uuid"
)

const (
	PhasePreflight  = "preflight"
	PhaseConnect    = "connect"
	PhaseThroughput = "throughput"
	PhaseLatency    = "latency"
	PhaseBulk       = "bulk"
	PhaseDone       = "done"
	PhaseFailed     = "failed"
)

// Runner executes measurement runs against the configured peer. Metrics and
// hub may be nil.
type Runner struct {
	cfg     config.Config
	logger  util.Logger
	metrics *metrics.Metrics
	hub     *control.StatusHub
	now     func() time.Time
}

func NewRunner(cfg config.Config, m *metrics.Metrics, hub *control.StatusHub, logger util.Logger) *Runner {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Runner{cfg: cfg, logger: logger, metrics: m, hub: hub, now: time.Now}
}

func (r *Runner) sessionConfig() session.Config {
	return session.Config{
		Network:     r.cfg.Peer.Network,
		Address:     r.cfg.Peer.Address,
		Port:        r.cfg.Peer.Port,
		DialTimeout: r.cfg.Peer.DialTimeout.Duration(),
		IOTimeout:   r.cfg.Peer.IOTimeout.Duration(),
	}
}

func (r *Runner) peerTarget() string {
	if r.cfg.Peer.Network == "unix" {
		return r.cfg.Peer.Address
	}
	return util.NetJoin(r.cfg.Peer.Address, r.cfg.Peer.Port)
}

func (r *Runner) publish(runID, kind string, data any) {
	r.hub.Publish(control.Event{Type: kind, RunID: runID, Data: data})
}

func (r *Runner) phase(runID, phase string) {
	r.logger.Debug("run phase", "run", util.ShortID(runID, 8), "phase", phase)
	r.publish(runID, control.EventPhase, phaseEvent{Phase: phase})
}

func (r *Runner) preflight(ctx context.Context, runID string) *netinfo.Info {
	if r.cfg.Peer.Network == "unix" {
		return nil
	}
	r.phase(runID, PhasePreflight)
	info := netinfo.Run(ctx, r.cfg.Peer.Address, netinfo.Options{
		Route:     r.cfg.Preflight.RouteEnabled(),
		ICMPCount: r.cfg.Preflight.ICMPCount,
		ICMPWait:  r.cfg.Preflight.ICMPWait.Duration(),
		GeoIPDB:   r.cfg.Peer.GeoIPDB,
	}, r.logger)
	return &info
}

// Run performs one measurement run: throughput then latency on a single
// session. The report is returned even when the run fails part way.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.cfg.ValidatePeer(); err != nil {
		return nil, err
	}
	run := record.RunInfo{ID: uuid.NewString(), Started: r.now(), Peer: r.peerTarget()}
	rep := &Report{RunID: run.ID, Peer: run.Peer, Started: run.Started}
	err := r.run(ctx, run, rep)
	rep.Finished = r.now()
	if err != nil {
		r.phase(run.ID, PhaseFailed)
		return rep, err
	}
	r.phase(run.ID, PhaseDone)
	r.publish(run.ID, control.EventSummary, newSummaryEvent(rep))
	return rep, nil
}

func (r *Runner) run(ctx context.Context, run record.RunInfo, rep *Report) (err error) {
	rep.Preflight = r.preflight(ctx, run.ID)

	csvLog, err := record.NewCSVLog(r.cfg.Log.Dir, run, r.cfg.Log.Compress)
	if err != nil {
		return err
	}
	sinks := record.Multi{csvLog}
	var db *record.SQLiteLog
	if r.cfg.Log.SQLite != "" {
		db, err = record.OpenSQLite(r.cfg.Log.SQLite, run)
		if err != nil {
			_ = csvLog.Close()
			return err
		}
		sinks = append(sinks, db)
		rep.Database = r.cfg.Log.SQLite
	}
	defer func() {
		if cerr := sinks.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close logs: %w", cerr)
		}
		rep.Artifacts = csvLog.Paths()
	}()

	r.phase(run.ID, PhaseConnect)
	sess, err := session.Establish(ctx, r.sessionConfig(), r.logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if r.cfg.Throughput.IsEnabled() {
		if err := r.runThroughput(ctx, run.ID, sess, csvLog, sinks, rep); err != nil {
			return err
		}
	}
	if r.cfg.Latency.IsEnabled() {
		if err := r.runLatency(ctx, run.ID, sess, csvLog, sinks, rep); err != nil {
			return err
		}
	}

	if tcp, terr := sess.TCPStats(); terr == nil {
		rep.TCP = &tcp
		r.metrics.SetTCPStats(tcp)
	} else if !errors.Is(terr, session.ErrTCPInfoUnsupported) {
		r.logger.Warn("tcp_info unavailable", "error", terr)
	}

	if db != nil {
		var mbps float64
		if rep.Throughput != nil {
			mbps = rep.Throughput.MbitPerSecond()
		}
		if err := db.FinishRun(r.now(), rep.Latency, mbps); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func (r *Runner) runThroughput(ctx context.Context, runID string, link probe.Link, csvLog *record.CSVLog, sink record.Sink, rep *Report) error {
	r.phase(runID, PhaseThroughput)
	if err := csvLog.StartThroughput(); err != nil {
		return err
	}
	r.logger.Info("throughput probe started",
		"payload", util.FormatBytes(float64(r.cfg.Throughput.PayloadSize)),
		"duration", r.cfg.Throughput.DurationValue().String())
	var last probe.ThroughputRecord
	res, err := probe.RunThroughput(ctx, link, probe.ThroughputConfig{
		PayloadSize: r.cfg.Throughput.PayloadSize.Int(),
		Duration:    r.cfg.Throughput.DurationValue(),
		OnRecord: func(rec probe.ThroughputRecord) error {
			r.metrics.AddThroughput(rec.SentBytes-last.SentBytes, rec.RecvBytes-last.RecvBytes)
			last = rec
			r.publish(runID, control.EventThroughputRecord, newThroughputEvent(rec))
			return sink.WriteThroughput(rec)
		},
	})
	if err != nil {
		return fmt.Errorf("throughput probe: %w", err)
	}
	rep.Throughput = res
	r.metrics.SetThroughputResult(res.MbitPerSecond(), res.Mismatches)
	if res.Mismatches > 0 {
		r.logger.Warn("echo content mismatches", "count", res.Mismatches)
	}
	r.logger.Info("throughput probe finished",
		"rate", util.FormatBitsPerSecond(res.MbitPerSecond()*1e6),
		"round_trips", len(res.Records))
	return nil
}

func (r *Runner) runLatency(ctx context.Context, runID string, link probe.Link, csvLog *record.CSVLog, sink record.Sink, rep *Report) error {
	r.phase(runID, PhaseLatency)
	if err := csvLog.StartLatency(); err != nil {
		return err
	}
	count := r.cfg.Latency.CountValue()
	r.logger.Info("latency probe started", "count", count,
		"payload", util.FormatBytes(float64(r.cfg.Latency.PayloadSize)),
		"timeout", r.cfg.Latency.TimeoutValue().String())
	samples, err := probe.RunLatency(ctx, link, probe.LatencyConfig{
		Count:       count,
		PayloadSize: r.cfg.Latency.PayloadSize.Int(),
		Delay:       r.cfg.Latency.Delay.Duration(),
		Timeout:     r.cfg.Latency.TimeoutValue(),
		Logger:      r.logger,
		OnSample: func(s probe.LatencySample) error {
			r.metrics.ObserveLatency(s.RTTMs, s.Lost)
			r.publish(runID, control.EventLatencySample, latencyEvent(s))
			return sink.WriteLatency(s)
		},
	})
	rep.Samples = samples
	if err != nil {
		return fmt.Errorf("latency probe: %w", err)
	}

	sess, err := stats.ForSession(probe.RTTs(samples), len(samples))
	if err != nil && !errors.Is(err, stats.ErrNoSamples) {
		return err
	}
	// sess carries only the loss accounting when nothing came back
	rep.Latency = &sess
	r.metrics.SetSessionStats(sess)
	if sess.Count == 0 {
		r.logger.Warn("no latency samples returned", "attempts", sess.TotalAttempts, "lost", sess.LossCount)
		return nil
	}
	r.logger.Info("latency probe finished",
		"mean", util.FormatMillis(sess.Mean),
		"p99", util.FormatMillis(sess.P99),
		"lost", sess.LossCount)
	return nil
}

// RunBulk streams one framed bulk transfer to a sink peer.
func (r *Runner) RunBulk(ctx context.Context) (*BulkReport, error) {
	if err := r.cfg.ValidatePeer(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	rep := &BulkReport{RunID: runID, Peer: r.peerTarget(), Started: r.now()}
	r.phase(runID, PhaseConnect)
	sess, err := session.Establish(ctx, r.sessionConfig(), r.logger)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	r.phase(runID, PhaseBulk)
	res, err := probe.RunBulk(ctx, sess, probe.BulkConfig{
		TotalSize: r.cfg.Bulk.TotalSize.Int64(),
		ChunkSize: r.cfg.Bulk.ChunkSize.Int(),
		Delay:     r.cfg.Bulk.Delay.Duration(),
	})
	if err != nil {
		r.phase(runID, PhaseFailed)
		return rep, fmt.Errorf("bulk transfer: %w", err)
	}
	rep.Result = *res
	r.phase(runID, PhaseDone)
	r.logger.Info("bulk transfer finished",
		"bytes", util.FormatBytes(float64(res.SentBytes)),
		"kbps", res.KBPerSecond())
	return rep, nil
}
