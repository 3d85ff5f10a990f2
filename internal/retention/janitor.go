// Package retention expires old run history. Records older than the
// retention window are archived, when an archiver is configured, and then
// purged from the history store.
//
// Archive failures are fail-safe: nothing is purged if archiving fails.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/store"
)

// Archiver writes expired records to durable storage before they are
// purged. It returns where the records went.
type Archiver interface {
	Kind() string
	Archive(ctx context.Context, recs []store.Record) (string, error)
}

// Stats tracks what happened in a single sweep.
type Stats struct {
	Cutoff   time.Time
	Expired  int
	Archived int
	Purged   int
	Location string
}

// Janitor archives and purges expired history.
type Janitor struct {
	store    store.Store
	days     int
	archiver Archiver
	log      zerolog.Logger

	now func() time.Time
}

// NewJanitor creates a janitor keeping days of history. archiver may be nil.
func NewJanitor(s store.Store, days int, archiver Archiver, log zerolog.Logger) *Janitor {
	return &Janitor{store: s, days: days, archiver: archiver, log: log, now: time.Now}
}

// FromConfig builds the janitor described by cfg, or nil when retention is
// disabled.
func FromConfig(cfg config.StoreConfig, s store.Store, log zerolog.Logger) *Janitor {
	if cfg.RetentionDays <= 0 {
		return nil
	}
	var archiver Archiver
	if cfg.ArchiveDir != "" {
		archiver = NewLocalFileArchiver(cfg.ArchiveDir, cfg.ArchiveCompress)
	}
	return NewJanitor(s, cfg.RetentionDays, archiver, log)
}

// Sweep performs one archive-then-purge cycle.
func (j *Janitor) Sweep(ctx context.Context) (Stats, error) {
	stats := Stats{Cutoff: j.now().UTC().AddDate(0, 0, -j.days)}

	expired, err := j.store.ExpiredResults(ctx, stats.Cutoff)
	if err != nil {
		return stats, err
	}
	stats.Expired = len(expired)
	if len(expired) == 0 {
		return stats, nil
	}

	if j.archiver != nil {
		loc, err := j.archiver.Archive(ctx, expired)
		if err != nil {
			j.log.Warn().Err(err).Str("archiver", j.archiver.Kind()).Msg("Archive failed, skipping purge")
			return stats, fmt.Errorf("retention: archive: %w", err)
		}
		stats.Archived = len(expired)
		stats.Location = loc
	}

	// Purge with the same cutoff so only what was archived goes.
	n, err := j.store.PurgeResults(ctx, stats.Cutoff)
	if err != nil {
		return stats, err
	}
	stats.Purged = n

	j.log.Info().
		Time("cutoff", stats.Cutoff).
		Int("archived", stats.Archived).
		Int("purged", stats.Purged).
		Str("location", stats.Location).
		Msg("History retention sweep complete")
	return stats, nil
}
