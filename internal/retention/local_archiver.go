package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/agentoven/agentoven/rootcause/internal/store"
)

// LocalFileArchiver writes expired records as JSONL files to a directory:
//
//	{basePath}/history-2026-02-20T15-04-05Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
	now      func() time.Time
}

// NewLocalFileArchiver creates a file-based archiver.
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	return &LocalFileArchiver{basePath: basePath, compress: compress, now: time.Now}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) Archive(ctx context.Context, recs []store.Record) (_ string, err error) {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	name := "history-" + a.now().UTC().Format("2006-01-02T15-04-05Z") + ".jsonl"
	if a.compress {
		name += ".gz"
	}
	path := filepath.Join(a.basePath, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	var w io.Writer = f
	var gw *gzip.Writer
	if a.compress {
		gw = gzip.NewWriter(f)
		w = gw
	}

	enc := json.NewEncoder(w)
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := enc.Encode(rec); err != nil {
			return "", fmt.Errorf("encode record %s/%s: %w", rec.RunID, rec.UUID, err)
		}
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			return "", fmt.Errorf("flush archive: %w", err)
		}
	}
	return path, nil
}
