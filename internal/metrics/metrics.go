// Package metrics exposes measurement results and responder traffic as
// Prometheus collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/NodePath81/fblink/internal/session"
	"github.com/NodePath81/fblink/internal/stats"
	"github.com/NodePath81/fblink/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fblink"

type Metrics struct {
	registry *prometheus.Registry

	throughputBytes *prometheus.CounterVec
	throughputRate  prometheus.Gauge
	echoMismatches  prometheus.Counter

	latencyRTT     prometheus.Histogram
	latencySamples *prometheus.CounterVec
	sessionStats   *prometheus.GaugeVec
	sessionLoss    prometheus.Gauge

	tcpInfo *prometheus.GaugeVec

	responderConns  prometheus.Counter
	responderActive prometheus.Gauge
	responderBytes  prometheus.Counter

	transfers     *prometheus.CounterVec
	transferBytes prometheus.Counter
	transferRate  prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		throughputBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throughput_bytes_total",
			Help:      "Bytes moved by the throughput probe.",
		}, []string{"direction"}),
		throughputRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_mbps",
			Help:      "Received rate of the last throughput run in Mbit/s.",
		}),
		echoMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echo_mismatches_total",
			Help:      "Throughput echoes whose content differed from the payload.",
		}),
		latencyRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_rtt_ms",
			Help:      "Round-trip time of latency pings in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(0.125, 2, 16),
		}),
		latencySamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latency_samples_total",
			Help:      "Latency pings by outcome.",
		}, []string{"outcome"}),
		sessionStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_summary_ms",
			Help:      "Summary statistics of the last latency run in milliseconds.",
		}, []string{"stat"}),
		sessionLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_loss_ratio",
			Help:      "Lost share of the last latency run.",
		}),
		tcpInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tcp_info",
			Help:      "Kernel TCP_INFO snapshot of the measurement session.",
		}, []string{"field"}),
		responderConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_connections_total",
			Help:      "Connections accepted by the responder.",
		}),
		responderActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "responder_active_connections",
			Help:      "Connections currently served by the responder.",
		}),
		responderBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_echoed_bytes_total",
			Help:      "Bytes echoed back by the responder.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_transfers_total",
			Help:      "Bulk transfers seen by the sink by result.",
		}, []string{"result"}),
		transferBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_bytes_total",
			Help:      "Data bytes counted inside bulk transfers.",
		}),
		transferRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sink_last_transfer_kbps",
			Help:      "Rate of the last finished bulk transfer in KB/s.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.throughputBytes, m.throughputRate, m.echoMismatches,
		m.latencyRTT, m.latencySamples, m.sessionStats, m.sessionLoss,
		m.tcpInfo,
		m.responderConns, m.responderActive, m.responderBytes,
		m.transfers, m.transferBytes, m.transferRate,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AddThroughput records the bytes of one round trip.
func (m *Metrics) AddThroughput(sent, recv int64) {
	if m == nil {
		return
	}
	m.throughputBytes.WithLabelValues("sent").Add(float64(sent))
	m.throughputBytes.WithLabelValues("recv").Add(float64(recv))
}

func (m *Metrics) SetThroughputResult(mbps float64, mismatches int) {
	if m == nil {
		return
	}
	m.throughputRate.Set(mbps)
	m.echoMismatches.Add(float64(mismatches))
}

func (m *Metrics) ObserveLatency(rttMs float64, lost bool) {
	if m == nil {
		return
	}
	if lost {
		m.latencySamples.WithLabelValues("lost").Inc()
		return
	}
	m.latencySamples.WithLabelValues("ok").Inc()
	m.latencyRTT.Observe(rttMs)
}

// SetSessionStats publishes the session summary. A session without a
// returned sample only updates the loss ratio.
func (m *Metrics) SetSessionStats(s stats.SessionStats) {
	if m == nil {
		return
	}
	if s.TotalAttempts > 0 {
		m.sessionLoss.Set(s.LossPercent() / 100)
	}
	if s.Count == 0 {
		return
	}
	m.sessionStats.WithLabelValues("mean").Set(s.Mean)
	m.sessionStats.WithLabelValues("median").Set(s.Median)
	m.sessionStats.WithLabelValues("jitter").Set(s.Jitter)
	m.sessionStats.WithLabelValues("p95").Set(s.P95)
	m.sessionStats.WithLabelValues("p99").Set(s.P99)
	m.sessionStats.WithLabelValues("min").Set(s.Min)
	m.sessionStats.WithLabelValues("max").Set(s.Max)
}

func (m *Metrics) SetTCPStats(s session.TCPStats) {
	if m == nil {
		return
	}
	m.tcpInfo.WithLabelValues("retransmits").Set(float64(s.Retransmits))
	m.tcpInfo.WithLabelValues("segments_sent").Set(float64(s.SegmentsSent))
	m.tcpInfo.WithLabelValues("rtt_ms").Set(util.Millis(s.RTT))
	m.tcpInfo.WithLabelValues("rttvar_ms").Set(util.Millis(s.RTTVar))
	m.tcpInfo.WithLabelValues("rto_ms").Set(util.Millis(s.RTO))
	m.tcpInfo.WithLabelValues("mss").Set(float64(s.MSS))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.responderConns.Inc()
	m.responderActive.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.responderActive.Dec()
}

func (m *Metrics) AddEchoed(n int) {
	if m == nil {
		return
	}
	m.responderBytes.Add(float64(n))
}

func (m *Metrics) AddTransferBytes(n int) {
	if m == nil {
		return
	}
	m.transferBytes.Add(float64(n))
}

// TransferDone counts a transfer outcome: finished, rejected or unterminated.
// kbps is only recorded for finished transfers.
func (m *Metrics) TransferDone(result string, kbps float64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(result).Inc()
	if result == "finished" {
		m.transferRate.Set(kbps)
	}
}
