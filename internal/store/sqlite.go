package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTime is fixed width so created_at sorts and compares as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps history in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS diagnosis_results (
		run_id TEXT NOT NULL,
		uuid TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		iterations INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL,
		created_at TEXT NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, uuid)
	);

	CREATE INDEX IF NOT EXISTS idx_diagnosis_results_uuid ON diagnosis_results(uuid, created_at);
	`)
	return err
}

func (s *SQLiteStore) SaveResult(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO diagnosis_results (run_id, uuid, status, failure_reason, detail, iterations, duration_ms, result, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM diagnosis_results))
		ON CONFLICT(run_id, uuid) DO UPDATE SET
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			detail = excluded.detail,
			iterations = excluded.iterations,
			duration_ms = excluded.duration_ms,
			result = excluded.result,
			created_at = excluded.created_at`,
		rec.RunID, rec.UUID, string(rec.Status), rec.FailureReason, rec.Detail,
		rec.Iterations, rec.DurationMs, string(raw), rec.CreatedAt.UTC().Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("save result %s: %w", rec.UUID, err)
	}
	return nil
}

const selectRecord = `SELECT run_id, uuid, status, failure_reason, detail, iterations, duration_ms, result, created_at FROM diagnosis_results`

func (s *SQLiteStore) GetResult(ctx context.Context, uuid string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE uuid = ? ORDER BY created_at DESC, seq DESC LIMIT 1`, uuid)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", uuid, err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ExpiredResults(ctx context.Context, cutoff time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE created_at < ? ORDER BY created_at, seq`,
		cutoff.UTC().Format(sqliteTime))
	if err != nil {
		return nil, fmt.Errorf("expired results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("expired results: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PurgeResults(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diagnosis_results WHERE created_at < ?`, cutoff.UTC().Format(sqliteTime))
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(sc scanner) (*Record, error) {
	var (
		rec     Record
		status  string
		raw     string
		created string
	)
	if err := sc.Scan(&rec.RunID, &rec.UUID, &status, &rec.FailureReason, &rec.Detail,
		&rec.Iterations, &rec.DurationMs, &raw, &created); err != nil {
		return nil, err
	}
	rec.Status = statusOf(status)
	if err := json.Unmarshal([]byte(raw), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	restoreBookkeeping(&rec)
	t, err := time.Parse(sqliteTime, created)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	rec.CreatedAt = t
	return &rec, nil
}

func (s *SQLiteStore) Kind() string                   { return "sqlite" }
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }
