// Package store keeps the history of diagnosis runs. The in-memory backend
// is the default; SQLite and PostgreSQL keep history across runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("store: not found")

// Record is one case outcome of one run.
type Record struct {
	RunID         string                 `json:"run_id"`
	UUID          string                 `json:"uuid"`
	Status        models.Status          `json:"status"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	Detail        string                 `json:"detail,omitempty"`
	Iterations    int                    `json:"iterations"`
	DurationMs    int64                  `json:"duration_ms"`
	Result        models.DiagnosisResult `json:"result"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewRecord captures res for runID.
func NewRecord(runID string, res *models.DiagnosisResult) Record {
	return Record{
		RunID:         runID,
		UUID:          res.UUID,
		Status:        res.Status,
		FailureReason: res.FailureReason,
		Detail:        res.Detail,
		Iterations:    res.Iterations,
		DurationMs:    res.Duration.Milliseconds(),
		Result:        *res,
		CreatedAt:     time.Now().UTC(),
	}
}

// Store is the run-history interface. All backends upsert on (run, uuid).
type Store interface {
	SaveResult(ctx context.Context, rec Record) error
	// GetResult returns the most recent record for a case across runs.
	GetResult(ctx context.Context, uuid string) (*Record, error)
	// ListResults returns the records of one run in insertion order.
	ListResults(ctx context.Context, runID string) ([]Record, error)

	// ExpiredResults returns the records created before cutoff, oldest first.
	ExpiredResults(ctx context.Context, cutoff time.Time) ([]Record, error)
	// PurgeResults deletes the records created before cutoff.
	PurgeResults(ctx context.Context, cutoff time.Time) (int, error)

	Kind() string

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Migrate runs idempotent schema migrations.
	Migrate(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// Open selects a backend from dsn: empty or "memory" for the in-memory
// store, sqlite://path, or postgres:// and postgresql:// URLs.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch {
	case dsn == "" || dsn == "memory":
		s = NewMemoryStore()
	case strings.HasPrefix(dsn, "sqlite://"):
		s, err = NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err = NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unsupported dsn %q", redact(dsn))
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("backend", s.Kind()).Msg("History store ready")
	return s, nil
}

// redact drops credentials from a DSN before it is logged.
func redact(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}
