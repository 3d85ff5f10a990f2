// Package output writes diagnosis results as they complete.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// Sink receives finished results. Implementations are not safe for
// concurrent use; the batch orchestrator writes from a single goroutine.
type Sink interface {
	Write(res *models.DiagnosisResult) error
	Close() error
}

// Open creates the sink for path. A .json extension selects a JSON array,
// anything else newline-delimited JSON. Parent directories are created.
func Open(path string) (Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewArray(f), nil
	}
	return NewJSONL(f), nil
}

// ── JSONL ────────────────────────────────────────────────────

// JSONLSink writes one result per line and flushes after every record so
// an interrupted run keeps everything written so far.
type JSONLSink struct {
	dst io.Writer
	w   *bufio.Writer
	enc *json.Encoder
}

func NewJSONL(w io.Writer) *JSONLSink {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &JSONLSink{dst: w, w: bw, enc: enc}
}

func (s *JSONLSink) Write(res *models.DiagnosisResult) error {
	if err := s.enc.Encode(res); err != nil {
		return fmt.Errorf("encode result %s: %w", res.UUID, err)
	}
	return s.w.Flush()
}

func (s *JSONLSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return closeDst(s.dst)
}

// ── JSON array ───────────────────────────────────────────────

// ArraySink streams results into a JSON array. The array is terminated on
// Close.
type ArraySink struct {
	dst   io.Writer
	w     *bufio.Writer
	count int
}

func NewArray(w io.Writer) *ArraySink {
	return &ArraySink{dst: w, w: bufio.NewWriter(w)}
}

func (s *ArraySink) Write(res *models.DiagnosisResult) error {
	raw, err := marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", res.UUID, err)
	}
	sep := ",\n  "
	if s.count == 0 {
		sep = "[\n  "
	}
	if _, err := s.w.WriteString(sep); err != nil {
		return err
	}
	if _, err := s.w.Write(raw); err != nil {
		return err
	}
	s.count++
	return s.w.Flush()
}

func (s *ArraySink) Close() error {
	tail := "\n]\n"
	if s.count == 0 {
		tail = "[]\n"
	}
	if _, err := s.w.WriteString(tail); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return closeDst(s.dst)
}

func marshal(res *models.DiagnosisResult) ([]byte, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(b.String(), "\n")), nil
}

func closeDst(w io.Writer) error {
	if c, ok := w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
