package record

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/NodePath81/fblink/internal/probe"
	"github.com/NodePath81/fblink/internal/stats"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	peer        TEXT NOT NULL,
	mean_ms     REAL,
	median_ms   REAL,
	jitter_ms   REAL,
	p95_ms      REAL,
	p99_ms      REAL,
	min_ms      REAL,
	max_ms      REAL,
	loss_count  INTEGER,
	attempts    INTEGER,
	mbps        REAL
);
CREATE TABLE IF NOT EXISTS throughput (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	t_s        REAL NOT NULL,
	sent_bytes INTEGER NOT NULL,
	recv_bytes INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS latency (
	run_id TEXT NOT NULL REFERENCES runs(id),
	seq    INTEGER NOT NULL,
	rtt_ms REAL,
	lost   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, seq)
);
`

// SQLiteLog appends observations to a SQLite database shared by many runs.
// Each insert is its own transaction.
type SQLiteLog struct {
	db    *sql.DB
	runID string

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (creating if needed) the database at path and registers
// the run.
func OpenSQLite(path string, run RunInfo) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	_, err = db.Exec(`INSERT INTO runs (id, started_at, peer) VALUES (?, ?, ?)`,
		run.ID, run.Started.UTC().Format(time.RFC3339Nano), run.Peer)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	return &SQLiteLog{db: db, runID: run.ID}, nil
}

func (l *SQLiteLog) WriteThroughput(rec probe.ThroughputRecord) error {
	_, err := l.db.Exec(`INSERT INTO throughput (run_id, t_s, sent_bytes, recv_bytes) VALUES (?, ?, ?, ?)`,
		l.runID, rec.Elapsed.Seconds(), rec.SentBytes, rec.RecvBytes)
	return err
}

func (l *SQLiteLog) WriteLatency(sample probe.LatencySample) error {
	var rtt sql.NullFloat64
	lost := 0
	if sample.Lost {
		lost = 1
	} else {
		rtt = sql.NullFloat64{Float64: sample.RTTMs, Valid: true}
	}
	_, err := l.db.Exec(`INSERT INTO latency (run_id, seq, rtt_ms, lost) VALUES (?, ?, ?, ?)`,
		l.runID, sample.Seq, rtt, lost)
	return err
}

// FinishRun stores the run summary. A nil session means no latency probe ran.
// The *_ms columns stay NULL when no ping was answered.
func (l *SQLiteLog) FinishRun(finished time.Time, sess *stats.SessionStats, mbps float64) error {
	if sess == nil {
		_, err := l.db.Exec(`UPDATE runs SET finished_at = ?, mbps = ? WHERE id = ?`,
			finished.UTC().Format(time.RFC3339Nano), mbps, l.runID)
		return err
	}
	if sess.Count == 0 {
		_, err := l.db.Exec(`UPDATE runs SET finished_at = ?, loss_count = ?, attempts = ?, mbps = ? WHERE id = ?`,
			finished.UTC().Format(time.RFC3339Nano), sess.LossCount, sess.TotalAttempts, mbps, l.runID)
		return err
	}
	_, err := l.db.Exec(`UPDATE runs SET finished_at = ?, mean_ms = ?, median_ms = ?, jitter_ms = ?,
		p95_ms = ?, p99_ms = ?, min_ms = ?, max_ms = ?, loss_count = ?, attempts = ?, mbps = ?
		WHERE id = ?`,
		finished.UTC().Format(time.RFC3339Nano),
		sess.Mean, sess.Median, sess.Jitter, sess.P95, sess.P99, sess.Min, sess.Max,
		sess.LossCount, sess.TotalAttempts, mbps, l.runID)
	return err
}

func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
