package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/NodePath81/fblink/internal/probe"
	"github.com/klauspost/compress/gzip"
)

var (
	throughputHeader = []string{"t_s", "sent_bytes", "recv_bytes"}
	latencyHeader    = []string{"seq", "rtt_ms"}
)

// csvFile is one artifact. Rows are flushed through the csv writer and, when
// compressed, the gzip stream after every write.
type csvFile struct {
	path string
	f    *os.File
	gz   *gzip.Writer
	w    *csv.Writer
}

func createCSV(path string, compress bool, header []string) (*csvFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	out := &csvFile{path: path, f: f}
	var dst io.Writer = f
	if compress {
		out.gz = gzip.NewWriter(f)
		dst = out.gz
	}
	out.w = csv.NewWriter(dst)
	if err := out.write(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return out, nil
}

func (c *csvFile) write(row []string) error {
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	if c.gz != nil {
		return c.gz.Flush()
	}
	return nil
}

func (c *csvFile) close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.gz != nil {
		err = errors.Join(err, c.gz.Close())
	}
	return errors.Join(err, c.f.Close())
}

// CSVLog writes throughput_<stem>.csv and latency_<stem>.csv into a
// directory. Existing files are never overwritten. Lost latency samples are
// not written.
type CSVLog struct {
	dir      string
	stem     string
	compress bool

	mu         sync.Mutex
	throughput *csvFile
	latency    *csvFile
	closed     bool
}

func NewCSVLog(dir string, run RunInfo, compress bool) (*CSVLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &CSVLog{dir: dir, stem: run.ArtifactStem(), compress: compress}, nil
}

func (l *CSVLog) path(kind string) string {
	name := kind + "_" + l.stem + ".csv"
	if l.compress {
		name += ".gz"
	}
	return filepath.Join(l.dir, name)
}

// StartThroughput creates the throughput artifact with its header so a run
// that produces no records still leaves one behind.
func (l *CSVLog) StartThroughput() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.open(&l.throughput, "throughput", throughputHeader)
	return err
}

// StartLatency creates the latency artifact with its header.
func (l *CSVLog) StartLatency() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.open(&l.latency, "latency", latencyHeader)
	return err
}

func (l *CSVLog) open(slot **csvFile, kind string, header []string) (*csvFile, error) {
	if l.closed {
		return nil, os.ErrClosed
	}
	if *slot != nil {
		return *slot, nil
	}
	f, err := createCSV(l.path(kind), l.compress, header)
	if err != nil {
		return nil, fmt.Errorf("create %s log: %w", kind, err)
	}
	*slot = f
	return f, nil
}

func (l *CSVLog) WriteThroughput(rec probe.ThroughputRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.open(&l.throughput, "throughput", throughputHeader)
	if err != nil {
		return err
	}
	return f.write([]string{
		strconv.FormatFloat(rec.Elapsed.Seconds(), 'f', 6, 64),
		strconv.FormatInt(rec.SentBytes, 10),
		strconv.FormatInt(rec.RecvBytes, 10),
	})
}

func (l *CSVLog) WriteLatency(sample probe.LatencySample) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.open(&l.latency, "latency", latencyHeader)
	if err != nil {
		return err
	}
	if sample.Lost {
		return nil
	}
	return f.write([]string{
		strconv.Itoa(sample.Seq),
		strconv.FormatFloat(sample.RTTMs, 'f', 3, 64),
	})
}

// Paths lists the artifacts created so far.
func (l *CSVLog) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, f := range []*csvFile{l.throughput, l.latency} {
		if f != nil {
			out = append(out, f.path)
		}
	}
	return out
}

func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	for _, f := range []*csvFile{l.throughput, l.latency} {
		if f != nil {
			err = errors.Join(err, f.close())
		}
	}
	return err
}
