// Package logging builds the per-run structured logger.
//
// Library packages never touch the global zerolog logger; they receive a
// zerolog.Logger derived from the Handle created for the batch run.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentoven/agentoven/rootcause/internal/config"
)

// Handle owns the run logger and its rotating file, if any.
type Handle struct {
	Logger zerolog.Logger
	file   *lumberjack.Logger
}

// New creates a logger writing to console and, when configured, to a
// rotating JSON log file.
func New(cfg config.LogConfig, console io.Writer) *Handle {
	if console == nil {
		console = os.Stderr
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}

	h := &Handle{}
	if cfg.File != "" {
		h.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, h.file)
	}

	h.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return h
}

// Nop returns a handle that discards everything. Used by tests.
func Nop() *Handle {
	return &Handle{Logger: zerolog.Nop()}
}

// Run returns a child logger tagged with the batch run ID.
func (h *Handle) Run(runID string) zerolog.Logger {
	return h.Logger.With().Str("run_id", runID).Logger()
}

// Close flushes and closes the rotating log file.
func (h *Handle) Close() error {
	if h.file == nil {
		return nil
	}
	return h.file.Close()
}
