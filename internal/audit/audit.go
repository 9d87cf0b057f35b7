// Package audit persists a run's resolved hosts, commands, and per-host
// results to a local SQLite database (§4.13). It is a passive subscriber to
// the same events the reporter renders: nothing here feeds back into
// scheduling, exit codes, or the handler state machine.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jross/cumin-go/internal/hoststate"
)

// Run is one invocation of the CLI: a resolved query dispatched as a
// command sequence against a host set (§3 "Ambient data").
type Run struct {
	ID            string
	Query         string
	ResolvedHosts []string
	Commands      []string
	Mode          string
	StartedAt     time.Time
	FinishedAt    time.Time
	ExitCode      int
}

// HostResult is one host's outcome within a run, with large output buffers
// held as compressed blobs rather than inline (§4.13).
type HostResult struct {
	Host         string
	CommandIndex int
	State        hoststate.State
	ExitCode     int
	Duration     time.Duration
	Stdout       []byte
	Stderr       []byte
}

// Store wraps the SQLite-backed audit database.
type Store struct {
	db         *sql.DB
	compressor *Compressor
}

// Open creates (if needed) the schema at path and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	compressor, err := NewCompressor()
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, compressor: compressor}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	resolved_hosts TEXT NOT NULL,
	commands TEXT NOT NULL,
	mode TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	exit_code INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS host_results (
	run_id TEXT NOT NULL,
	host TEXT NOT NULL,
	command_index INTEGER NOT NULL,
	state TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	stdout_digest TEXT NOT NULL,
	stderr_digest TEXT NOT NULL,
	stdout_blob BLOB,
	stderr_blob BLOB,
	FOREIGN KEY(run_id) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_host_results_run ON host_results(run_id);
`)
	if err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// SaveRun persists (or replaces) a run header keyed by r.ID, the id that
// SaveHostResult calls for the same run are correlated against.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, query, resolved_hosts, commands, mode, started_at, finished_at, exit_code) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Query, joinLines(r.ResolvedHosts), joinLines(r.Commands), r.Mode,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("audit: save run %s: %w", r.ID, err)
	}
	return nil
}

// SaveHostResult persists one host's outcome, compressing its stdout/stderr
// buffers before storage (§4.13).
func (s *Store) SaveHostResult(ctx context.Context, runID string, hr HostResult) error {
	stdoutBlob, err := s.compressor.Compress(hr.Stdout)
	if err != nil {
		return fmt.Errorf("audit: compress stdout for %s: %w", hr.Host, err)
	}
	stderrBlob, err := s.compressor.Compress(hr.Stderr)
	if err != nil {
		return fmt.Errorf("audit: compress stderr for %s: %w", hr.Host, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO host_results (run_id, host, command_index, state, exit_code, duration_ms, stdout_digest, stderr_digest, stdout_blob, stderr_blob) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, hr.Host, hr.CommandIndex, hr.State.String(), hr.ExitCode, hr.Duration.Milliseconds(),
		digest(hr.Stdout), digest(hr.Stderr), stdoutBlob, stderrBlob,
	)
	if err != nil {
		return fmt.Errorf("audit: save host result for %s: %w", hr.Host, err)
	}
	return nil
}

// GetRun reads back one run's header, for the admin HTTP surface's
// /runs/{id} endpoint (§6). Returns sql.ErrNoRows wrapped if runID is
// unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var r Run
	var resolvedHosts, commands string
	var startedAt, finishedAt int64
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, resolved_hosts, commands, mode, started_at, finished_at, exit_code FROM runs WHERE id = ?`,
		runID,
	)
	if err := row.Scan(&r.ID, &r.Query, &resolvedHosts, &commands, &r.Mode, &startedAt, &finishedAt, &r.ExitCode); err != nil {
		return Run{}, fmt.Errorf("audit: get run %s: %w", runID, err)
	}
	r.ResolvedHosts = splitLines(resolvedHosts)
	r.Commands = splitLines(commands)
	r.StartedAt = time.UnixMilli(startedAt)
	r.FinishedAt = time.UnixMilli(finishedAt)
	return r, nil
}

// HostResultSummary is the digest-only projection the interactive
// explorer's host list reads back, never the full buffer (§4.13).
type HostResultSummary struct {
	Host         string
	State        string
	ExitCode     int
	StdoutDigest string
	StderrDigest string
}

// ListHostResults returns every persisted host result for runID, ordered by
// command index then host name.
func (s *Store) ListHostResults(ctx context.Context, runID string) ([]HostResultSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, state, exit_code, stdout_digest, stderr_digest FROM host_results WHERE run_id = ? ORDER BY command_index, host`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: list host results for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []HostResultSummary
	for rows.Next() {
		var r HostResultSummary
		if err := rows.Scan(&r.Host, &r.State, &r.ExitCode, &r.StdoutDigest, &r.StderrDigest); err != nil {
			return nil, fmt.Errorf("audit: scan host result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Output decompresses and returns the stored stdout+stderr for one host in
// a run, used by the interactive explorer (§4.15) to display full buffers
// on demand.
func (s *Store) Output(ctx context.Context, runID, host string) (stdout, stderr []byte, err error) {
	var stdoutBlob, stderrBlob []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT stdout_blob, stderr_blob FROM host_results WHERE run_id = ? AND host = ? ORDER BY command_index DESC LIMIT 1`,
		runID, host,
	)
	if err := row.Scan(&stdoutBlob, &stderrBlob); err != nil {
		return nil, nil, fmt.Errorf("audit: read output for %s/%s: %w", runID, host, err)
	}
	stdout, err = s.compressor.Decompress(stdoutBlob)
	if err != nil {
		return nil, nil, err
	}
	stderr, err = s.compressor.Decompress(stderrBlob)
	if err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func joinLines(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += "\n"
		}
		out += it
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
