package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/NodePath81/fblink/internal/netinfo"
	"github.com/NodePath81/fblink/internal/probe"
	"github.com/NodePath81/fblink/internal/session"
	"github.com/NodePath81/fblink/internal/stats"
	"github.com/NodePath81/fblink/internal/util"
)

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Peer     string
	Started  time.Time
	Finished time.Time

	Preflight *netinfo.Info
	TCP       *session.TCPStats

	// Throughput is nil when the probe was disabled or failed.
	Throughput *probe.ThroughputResult
	Samples    []probe.LatencySample
	// Latency is nil when the probe was disabled or failed.
	Latency *stats.SessionStats

	Artifacts []string
	Database  string
}

// BulkReport is the sender side of one bulk transfer.
type BulkReport struct {
	RunID   string
	Peer    string
	Started time.Time
	Result  probe.BulkResult
}

type phaseEvent struct {
	Phase string `json:"phase"`
}

type throughputEvent struct {
	TSeconds  float64 `json:"t_s"`
	SentBytes int64   `json:"sent_bytes"`
	RecvBytes int64   `json:"recv_bytes"`
}

func newThroughputEvent(rec probe.ThroughputRecord) throughputEvent {
	return throughputEvent{TSeconds: rec.Elapsed.Seconds(), SentBytes: rec.SentBytes, RecvBytes: rec.RecvBytes}
}

type latencyEvent struct {
	Seq   int     `json:"seq"`
	RTTMs float64 `json:"rtt_ms"`
	Lost  bool    `json:"lost"`
}

type summaryEvent struct {
	Mbps          float64 `json:"mbps,omitempty"`
	MeanMs        float64 `json:"mean_ms,omitempty"`
	MedianMs      float64 `json:"median_ms,omitempty"`
	JitterMs      float64 `json:"jitter_ms,omitempty"`
	P95Ms         float64 `json:"p95_ms,omitempty"`
	P99Ms         float64 `json:"p99_ms,omitempty"`
	LossCount     int     `json:"loss_count"`
	TotalAttempts int     `json:"total_attempts"`
}

func newSummaryEvent(rep *Report) summaryEvent {
	var ev summaryEvent
	if rep.Throughput != nil {
		ev.Mbps = rep.Throughput.MbitPerSecond()
	}
	if s := rep.Latency; s != nil {
		ev.MeanMs, ev.MedianMs, ev.JitterMs = s.Mean, s.Median, s.Jitter
		ev.P95Ms, ev.P99Ms = s.P95, s.P99
		ev.LossCount, ev.TotalAttempts = s.LossCount, s.TotalAttempts
	}
	return ev
}

// Print writes the console summary.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Link Characterization ===")
	fmt.Fprintf(w, "Peer:    %s\n", r.Peer)
	fmt.Fprintf(w, "Run:     %s\n", r.RunID)
	if !r.Finished.IsZero() {
		fmt.Fprintf(w, "Elapsed: %s\n", r.Finished.Sub(r.Started).Round(time.Millisecond))
	}

	if p := r.Preflight; p != nil && p.PeerIP != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Path:")
		fmt.Fprintf(w, "  Peer address:      %s\n", p.PeerIP)
		if p.Route != nil {
			via := "direct"
			if p.Route.Gateway != nil {
				via = "via " + p.Route.Gateway.String()
			}
			fmt.Fprintf(w, "  Egress interface:  %s (mtu %d, %s)\n", p.Route.Interface, p.Route.MTU, via)
		}
		if p.ICMP != nil {
			fmt.Fprintf(w, "  ICMP baseline:     %d/%d replies", p.ICMP.Received, p.ICMP.Sent)
			if p.ICMP.Received > 0 {
				fmt.Fprintf(w, ", mean %s, p95 %s", util.FormatMillis(p.ICMP.Summary.Mean), util.FormatMillis(p.ICMP.Summary.P95))
			}
			fmt.Fprintln(w)
		}
		if p.Geo != nil {
			parts := make([]string, 0, 3)
			for _, s := range []string{p.Geo.City, p.Geo.Country} {
				if s != "" {
					parts = append(parts, s)
				}
			}
			if p.Geo.ASN != 0 {
				parts = append(parts, fmt.Sprintf("AS%d %s", p.Geo.ASN, p.Geo.ASOrg))
			}
			fmt.Fprintf(w, "  Location:          %s\n", strings.Join(parts, ", "))
		}
	}

	if t := r.Throughput; t != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Throughput:")
		fmt.Fprintf(w, "  Round trips:       %d\n", len(t.Records))
		fmt.Fprintf(w, "  Bytes sent:        %s\n", util.FormatBytes(float64(t.SentBytes)))
		fmt.Fprintf(w, "  Bytes received:    %s\n", util.FormatBytes(float64(t.RecvBytes)))
		fmt.Fprintf(w, "  Duration:          %s\n", t.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(w, "  Echo throughput:   %.3f Mbit/s\n", t.MbitPerSecond())
		if t.Mismatches > 0 {
			fmt.Fprintf(w, "  Echo mismatches:   %d\n", t.Mismatches)
		}
	}

	if s := r.Latency; s != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Latency:")
		fmt.Fprintf(w, "  Received:          %d/%d (%.1f%% loss)\n", s.TotalAttempts-s.LossCount, s.TotalAttempts, s.LossPercent())
		if s.Count > 0 {
			fmt.Fprintf(w, "  Mean:              %s\n", util.FormatMillis(s.Mean))
			fmt.Fprintf(w, "  Median:            %s\n", util.FormatMillis(s.Median))
			fmt.Fprintf(w, "  Jitter (stddev):   %s\n", util.FormatMillis(s.Jitter))
			fmt.Fprintf(w, "  P95:               %s\n", util.FormatMillis(s.P95))
			fmt.Fprintf(w, "  P99:               %s\n", util.FormatMillis(s.P99))
			fmt.Fprintf(w, "  Min/Max:           %s / %s\n", util.FormatMillis(s.Min), util.FormatMillis(s.Max))
		}
	}

	if t := r.TCP; t != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "TCP:")
		fmt.Fprintf(w, "  Kernel RTT:        %s (var %s)\n", util.FormatMillis(util.Millis(t.RTT)), util.FormatMillis(util.Millis(t.RTTVar)))
		fmt.Fprintf(w, "  Retransmits:       %d of %d segments\n", t.Retransmits, t.SegmentsSent)
	}

	if len(r.Artifacts) > 0 || r.Database != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Artifacts:")
		for _, path := range r.Artifacts {
			fmt.Fprintf(w, "  %s\n", path)
		}
		if r.Database != "" {
			fmt.Fprintf(w, "  %s (sqlite)\n", r.Database)
		}
	}
}

func (r *BulkReport) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Bulk Transfer ===")
	fmt.Fprintf(w, "Peer:    %s\n", r.Peer)
	fmt.Fprintf(w, "Run:     %s\n", r.RunID)
	fmt.Fprintf(w, "  Sent:              %s in %d chunks\n", util.FormatBytes(float64(r.Result.SentBytes)), r.Result.Chunks)
	fmt.Fprintf(w, "  Duration:          %s\n", r.Result.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Rate:              %.2f KB/s\n", r.Result.KBPerSecond())
}
