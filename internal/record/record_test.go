package record

import (
	"bufio"
	"compress/gzip"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/fblink/internal/probe"
	"github.com/NodePath81/fblink/internal/stats"
	"github.com/stretchr/testify/require"
)

func testRun(id string) RunInfo {
	return RunInfo{
		ID:      id,
		Started: time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local),
		Peer:    "127.0.0.1:9877",
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestArtifactStem(t *testing.T) {
	require.Equal(t, "20260304T050607_0123abcd", testRun("0123abcd-ffff").ArtifactStem())
}

func TestCSVLog(t *testing.T) {
	dir := t.TempDir()
	log, err := NewCSVLog(dir, testRun("aaaaaaaa-1111"), false)
	require.NoError(t, err)

	require.NoError(t, log.WriteThroughput(probe.ThroughputRecord{Elapsed: 1500 * time.Millisecond, SentBytes: 1024, RecvBytes: 1024}))
	require.NoError(t, log.WriteThroughput(probe.ThroughputRecord{Elapsed: 3 * time.Second, SentBytes: 2048, RecvBytes: 2048}))
	require.NoError(t, log.WriteLatency(probe.LatencySample{Seq: 0, RTTMs: 1.23456}))
	require.NoError(t, log.WriteLatency(probe.LatencySample{Seq: 1, Lost: true}))
	require.NoError(t, log.WriteLatency(probe.LatencySample{Seq: 2, RTTMs: 2}))

	// rows are visible before close
	tp := filepath.Join(dir, "throughput_20260304T050607_aaaaaaaa.csv")
	require.Equal(t, []string{"t_s,sent_bytes,recv_bytes", "1.500000,1024,1024", "3.000000,2048,2048"}, readLines(t, tp))

	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	lat := filepath.Join(dir, "latency_20260304T050607_aaaaaaaa.csv")
	require.Equal(t, []string{"seq,rtt_ms", "0,1.235", "2,2.000"}, readLines(t, lat))
	require.Equal(t, []string{tp, lat}, log.Paths())

	require.Error(t, log.WriteLatency(probe.LatencySample{}))
}

func TestCSVLogHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	log, err := NewCSVLog(dir, testRun("bbbbbbbb"), false)
	require.NoError(t, err)
	require.NoError(t, log.StartLatency())
	require.NoError(t, log.Close())

	paths := log.Paths()
	require.Len(t, paths, 1)
	require.Equal(t, []string{"seq,rtt_ms"}, readLines(t, paths[0]))
}

func TestCSVLogNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	run := testRun("cccccccc")
	first, err := NewCSVLog(dir, run, false)
	require.NoError(t, err)
	require.NoError(t, first.StartThroughput())
	require.NoError(t, first.Close())

	second, err := NewCSVLog(dir, run, false)
	require.NoError(t, err)
	err = second.StartThroughput()
	require.True(t, errors.Is(err, os.ErrExist))

	other, err := NewCSVLog(dir, testRun("dddddddd"), false)
	require.NoError(t, err)
	require.NoError(t, other.StartThroughput())
	require.NoError(t, other.Close())
}

func TestCSVLogCompressed(t *testing.T) {
	dir := t.TempDir()
	log, err := NewCSVLog(dir, testRun("eeeeeeee"), true)
	require.NoError(t, err)
	require.NoError(t, log.WriteLatency(probe.LatencySample{Seq: 0, RTTMs: 0.5}))
	require.NoError(t, log.Close())

	path := log.Paths()[0]
	require.True(t, strings.HasSuffix(path, ".csv.gz"))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	var lines []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Equal(t, []string{"seq,rtt_ms", "0,0.500"}, lines)
}

type failingSink struct{ err error }

func (f failingSink) WriteThroughput(probe.ThroughputRecord) error {
	return f.err
}

func (f failingSink) WriteLatency(probe.LatencySample) error {
	return f.err
}

func (f failingSink) Close() error {
	return f.err
}

type countingSink struct{ n int }

func (c *countingSink) WriteThroughput(probe.ThroughputRecord) error {
	c.n++
	return nil
}

func (c *countingSink) WriteLatency(probe.LatencySample) error {
	c.n++
	return nil
}

func (c *countingSink) Close() error { return nil }

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingSink{}
	m := Multi{failingSink{err: boom}, counter}

	require.ErrorIs(t, m.WriteThroughput(probe.ThroughputRecord{}), boom)
	require.ErrorIs(t, m.WriteLatency(probe.LatencySample{}), boom)
	require.Equal(t, 2, counter.n)
	require.ErrorIs(t, m.Close(), boom)
}

func TestSQLiteLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	log, err := OpenSQLite(path, testRun("run-1"))
	require.NoError(t, err)

	require.NoError(t, log.WriteThroughput(probe.ThroughputRecord{Elapsed: time.Second, SentBytes: 10, RecvBytes: 10}))
	require.NoError(t, log.WriteLatency(probe.LatencySample{Seq: 0, RTTMs: 1.5}))
	require.NoError(t, log.WriteLatency(probe.LatencySample{Seq: 1, Lost: true}))
	sess, err := stats.ForSession([]float64{1.5}, 2)
	require.NoError(t, err)
	require.NoError(t, log.FinishRun(time.Now(), &sess, 8.5))
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var lost int
	var rtt sql.NullFloat64
	require.NoError(t, db.QueryRow(`SELECT lost, rtt_ms FROM latency WHERE run_id = ? AND seq = 1`, "run-1").Scan(&lost, &rtt))
	require.Equal(t, 1, lost)
	require.False(t, rtt.Valid)

	var lossCount, attempts int
	var mbps float64
	require.NoError(t, db.QueryRow(`SELECT loss_count, attempts, mbps FROM runs WHERE id = ?`, "run-1").Scan(&lossCount, &attempts, &mbps))
	require.Equal(t, 1, lossCount)
	require.Equal(t, 2, attempts)
	require.Equal(t, 8.5, mbps)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM throughput`).Scan(&rows))
	require.Equal(t, 1, rows)
}

func TestSQLiteFinishRunWithoutSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	log, err := OpenSQLite(path, testRun("run-2"))
	require.NoError(t, err)
	for seq := 0; seq < 3; seq++ {
		require.NoError(t, log.WriteLatency(probe.LatencySample{Seq: seq, Lost: true}))
	}
	sess, err := stats.ForSession(nil, 3)
	require.ErrorIs(t, err, stats.ErrNoSamples)
	require.NoError(t, log.FinishRun(time.Now(), &sess, 0))
	require.NoError(t, log.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var mean, p99 sql.NullFloat64
	var lossCount, attempts int
	require.NoError(t, db.QueryRow(`SELECT mean_ms, p99_ms, loss_count, attempts FROM runs WHERE id = ?`, "run-2").
		Scan(&mean, &p99, &lossCount, &attempts))
	require.False(t, mean.Valid)
	require.False(t, p99.Valid)
	require.Equal(t, 3, lossCount)
	require.Equal(t, 3, attempts)
}
