// Package record persists measurement observations as they are produced.
// Every write is committed before it returns so an interrupted run keeps
// everything measured up to that point.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/NodePath81/fblink/internal/probe"
	"github.com/NodePath81/fblink/internal/util"
)

// Sink receives observations in the order they are measured.
type Sink interface {
	WriteThroughput(probe.ThroughputRecord) error
	WriteLatency(probe.LatencySample) error
	Close() error
}

// RunInfo identifies a run in artifact names and database rows.
type RunInfo struct {
	ID      string
	Started time.Time
	Peer    string
}

// ArtifactStem is the per-run file name suffix: local start time and the
// first eight characters of the run ID.
func (r RunInfo) ArtifactStem() string {
	return fmt.Sprintf("%s_%s", r.Started.Format("20060102T150405"), util.ShortID(r.ID, 8))
}

// Multi fans observations out to several sinks. The first error wins but
// every sink still sees the observation.
type Multi []Sink

func (m Multi) WriteThroughput(rec probe.ThroughputRecord) error {
	var first error
	for _, s := range m {
		if err := s.WriteThroughput(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) WriteLatency(sample probe.LatencySample) error {
	var first error
	for _, s := range m {
		if err := s.WriteLatency(sample); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
