package batch

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Older databases must
// be cleared.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ItemStatus is the persisted state of one note.
type ItemStatus string

const (
	StatusDone   ItemStatus = "done"
	StatusFailed ItemStatus = "failed"
	// StatusParked marks notes that failed for a reason retrying cannot fix.
	StatusParked ItemStatus = "parked"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists batch progress in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	InputDir   string     `json:"input_dir"`
	OutputDir  string     `json:"output_dir"`
	Pending    int        `json:"pending"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Workers    int        `json:"workers"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// Stats summarizes the progress database.
type Stats struct {
	Done    int        `json:"done"`
	Failed  int        `json:"failed"`
	Parked  int        `json:"parked"`
	Runs    int        `json:"runs"`
	LastRun *RunRecord `json:"last_run,omitempty"`
}

// Open creates or connects to the progress database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// IsDone reports whether path needs no further work: it either succeeded or
// was parked.
func (s *Store) IsDone(ctx context.Context, path string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM items WHERE path = ?", path).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read item status: %w", err)
	}
	return ItemStatus(status) == StatusDone || ItemStatus(status) == StatusParked, nil
}

// MarkDone records a successful extraction.
func (s *Store) MarkDone(ctx context.Context, note Note, runID, provider, outputPath string) error {
	return s.upsertItem(ctx, note, StatusDone, runID, provider, outputPath, "")
}

// MarkFailed records a failed extraction. Permanent failures are parked and
// skipped by later runs; the rest are retried.
func (s *Store) MarkFailed(ctx context.Context, note Note, runID string, cause error, permanent bool) error {
	status := StatusFailed
	if permanent {
		status = StatusParked
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return s.upsertItem(ctx, note, status, runID, "", "", message)
}

func (s *Store) upsertItem(ctx context.Context, note Note, status ItemStatus, runID, provider, outputPath, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO items (path, content_hash, status, run_id, provider, output_path, error_message, attempts, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
         ON CONFLICT(path) DO UPDATE SET
             content_hash = excluded.content_hash,
             status = excluded.status,
             run_id = excluded.run_id,
             provider = excluded.provider,
             output_path = excluded.output_path,
             error_message = excluded.error_message,
             attempts = items.attempts + 1,
             updated_at = excluded.updated_at`,
		note.Path, note.Hash, string(status), nullableString(runID), nullableString(provider),
		nullableString(outputPath), nullableString(message), now,
	)
	if err != nil {
		return fmt.Errorf("record item %s: %w", note.RelPath, err)
	}
	return nil
}

// StartRun inserts a run row.
func (s *Store) StartRun(ctx context.Context, run RunRecord) error {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, started_at, input_dir, output_dir, pending, skipped, workers)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, started.UTC().Format(time.RFC3339Nano), run.InputDir, run.OutputDir,
		run.Pending, run.Skipped, run.Workers,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, summary Summary) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE runs SET finished_at = ?, succeeded = ?, failed = ?, skipped = ?, workers = ?, stop_reason = ?
         WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		summary.Succeeded, summary.Failed, summary.Skipped, summary.Workers,
		nullableString(summary.StopReason), summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Stats counts items by status and returns the most recent run.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM items GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("count items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan item count: %w", err)
		}
		switch ItemStatus(status) {
		case StatusDone:
			stats.Done = count
		case StatusFailed:
			stats.Failed = count
		case StatusParked:
			stats.Parked = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate item counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM runs").Scan(&stats.Runs); err != nil {
		return stats, fmt.Errorf("count runs: %w", err)
	}
	if stats.Runs == 0 {
		return stats, nil
	}

	last, err := s.lastRun(ctx)
	if err != nil {
		return stats, err
	}
	stats.LastRun = last
	return stats, nil
}

func (s *Store) lastRun(ctx context.Context) (*RunRecord, error) {
	var (
		run        RunRecord
		startedRaw string
		finished   sql.NullString
		stopReason sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, input_dir, output_dir, pending, succeeded, failed, skipped, workers, stop_reason
         FROM runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&run.ID, &startedRaw, &finished, &run.InputDir, &run.OutputDir,
		&run.Pending, &run.Succeeded, &run.Failed, &run.Skipped, &run.Workers, &stopReason)
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	run.StartedAt = parseTime(startedRaw)
	if finished.Valid {
		t := parseTime(finished.String)
		run.FinishedAt = &t
	}
	run.StopReason = stopReason.String
	return &run, nil
}

// Clear removes all items and runs, returning the number of items removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	removed, err := s.ClearItems(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := s.execWithRetry(ctx, "DELETE FROM runs"); err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	return removed, nil
}

// ClearItems forgets per-note progress but keeps run history.
func (s *Store) ClearItems(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM items")
	if err != nil {
		return 0, fmt.Errorf("clear items: %w", err)
	}
	return res.RowsAffected()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
