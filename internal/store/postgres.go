package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// PostgresStore keeps history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rc_diagnosis_results (
			run_id         TEXT NOT NULL,
			uuid           TEXT NOT NULL,
			status         TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			detail         TEXT NOT NULL DEFAULT '',
			iterations     INTEGER NOT NULL DEFAULT 0,
			duration_ms    BIGINT NOT NULL DEFAULT 0,
			result         JSONB NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			seq            BIGSERIAL,
			PRIMARY KEY (run_id, uuid)
		);

		CREATE INDEX IF NOT EXISTS idx_rc_results_uuid ON rc_diagnosis_results (uuid, created_at);
	`)
	return err
}

func (s *PostgresStore) SaveResult(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rc_diagnosis_results (run_id, uuid, status, failure_reason, detail, iterations, duration_ms, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, uuid) DO UPDATE SET
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			detail = EXCLUDED.detail,
			iterations = EXCLUDED.iterations,
			duration_ms = EXCLUDED.duration_ms,
			result = EXCLUDED.result,
			created_at = EXCLUDED.created_at`,
		rec.RunID, rec.UUID, string(rec.Status), rec.FailureReason, rec.Detail,
		rec.Iterations, rec.DurationMs, string(raw), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save result %s: %w", rec.UUID, err)
	}
	return nil
}

const selectPGRecord = `SELECT run_id, uuid, status, failure_reason, detail, iterations, duration_ms, result, created_at FROM rc_diagnosis_results`

func (s *PostgresStore) GetResult(ctx context.Context, uuid string) (*Record, error) {
	row := s.pool.QueryRow(ctx, selectPGRecord+` WHERE uuid = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, uuid)
	rec, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", uuid, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectPGRecord+` WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPG(rows)
		if err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExpiredResults(ctx context.Context, cutoff time.Time) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectPGRecord+` WHERE created_at < $1 ORDER BY created_at, seq`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expired results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPG(rows)
		if err != nil {
			return nil, fmt.Errorf("expired results: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PurgeResults(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rc_diagnosis_results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanPG(row pgx.Row) (*Record, error) {
	var (
		rec     Record
		status  string
		raw     []byte
		created time.Time
	)
	if err := row.Scan(&rec.RunID, &rec.UUID, &status, &rec.FailureReason, &rec.Detail,
		&rec.Iterations, &rec.DurationMs, &raw, &created); err != nil {
		return nil, err
	}
	rec.Status = statusOf(status)
	if err := json.Unmarshal(raw, &rec.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	restoreBookkeeping(&rec)
	rec.CreatedAt = created.UTC()
	return &rec, nil
}

func (s *PostgresStore) Kind() string                   { return "postgres" }
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Shared decoding ──────────────────────────────────────────

func statusOf(s string) models.Status { return models.Status(s) }

// restoreBookkeeping copies the columns that the serialized result omits.
func restoreBookkeeping(rec *Record) {
	rec.Result.Status = rec.Status
	rec.Result.FailureReason = rec.FailureReason
	rec.Result.Detail = rec.Detail
	rec.Result.Iterations = rec.Iterations
	rec.Result.Duration = time.Duration(rec.DurationMs) * time.Millisecond
}
