package discovery_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/discovery"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

// newTestRoot creates partitions with the given dates, each holding one file
// per listed subdirectory.
func newTestRoot(t *testing.T, dates []string, subdirs ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, date := range dates {
		for _, sub := range subdirs {
			dir := filepath.Join(root, date, sub)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, sub+"_"+date+".parquet"), []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		if len(subdirs) == 0 {
			if err := os.MkdirAll(filepath.Join(root, date), 0o755); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func TestLocateCrossesLocalMidnight(t *testing.T) {
	root := newTestRoot(t, []string{"2025-06-05", "2025-06-06"})
	d := discovery.New(root, zerolog.Nop())

	parts, err := d.Locate(mustTime(t, "2025-06-05T16:10:00Z"), mustTime(t, "2025-06-05T16:31:00Z"))
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("Locate() returned %d partitions, want 1: %+v", len(parts), parts)
	}
	if parts[0].Date != "2025-06-06" || !parts[0].Exists {
		t.Errorf("Locate()[0] = %+v, want existing 2025-06-06", parts[0])
	}
}

func TestLocalDates(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		want       []string
	}{
		{"same local day", "2025-06-05T01:00:00Z", "2025-06-05T02:00:00Z", []string{"2025-06-05"}},
		{"after local midnight", "2025-06-05T16:10:00Z", "2025-06-05T16:31:00Z", []string{"2025-06-06"}},
		{"straddles local midnight", "2025-06-05T15:50:00Z", "2025-06-05T16:20:00Z", []string{"2025-06-05", "2025-06-06"}},
		{"inverted end", "2025-06-05T10:00:00Z", "2025-06-05T09:00:00Z", []string{"2025-06-05"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := discovery.LocalDates(mustTime(t, tt.start), mustTime(t, tt.end))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("LocalDates() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocateFallsBackToClosestDate(t *testing.T) {
	root := newTestRoot(t, []string{"2025-06-01", "2025-06-08", "2025-06-10"})
	d := discovery.New(root, zerolog.Nop())

	parts, err := d.Locate(mustTime(t, "2025-06-05T16:10:00Z"), mustTime(t, "2025-06-05T16:31:00Z"))
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	var got []string
	for _, p := range parts {
		got = append(got, p.Date+":"+p.Source)
	}
	want := []string{"2025-06-06:window", "2025-06-08:closest", "2025-06-10:closest", "2025-06-01:closest"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Locate() mismatch (-want +got):\n%s", diff)
	}
	if parts[0].Exists {
		t.Error("missing window partition reported as existing")
	}
}

func TestLocateEmptyRoot(t *testing.T) {
	d := discovery.New(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	parts, err := d.Locate(mustTime(t, "2025-06-05T16:10:00Z"), time.Time{})
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(parts) != 1 || parts[0].Exists {
		t.Errorf("Locate() = %+v, want one missing partition", parts)
	}
}

func TestIndexGroupsFiles(t *testing.T) {
	root := newTestRoot(t, []string{"2025-06-06"}, "log-parquet", "trace-parquet", "pod", "infra_tidb", "scratch")
	d := discovery.New(root, zerolog.Nop())

	idx, err := d.Index(discovery.Partition{Date: "2025-06-06", Dir: filepath.Join(root, "2025-06-06")})
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if idx.Count() != 4 {
		t.Errorf("Index().Count() = %d, want 4 (unknown dirs ignored)", idx.Count())
	}
	for _, g := range []discovery.Group{discovery.GroupLog, discovery.GroupTrace, discovery.GroupMetricPod, discovery.GroupMetricTiDB} {
		if len(idx[g]) != 1 {
			t.Errorf("group %s has %d files, want 1", g, len(idx[g]))
		}
	}
}

func TestParseWindow(t *testing.T) {
	desc := "The system experienced an anomaly from 2025-06-05T16:10:02Z to 2025-06-05T16:31:02Z. Please infer the possible cause."
	start, end, ok := discovery.ParseWindow(desc)
	if !ok {
		t.Fatal("ParseWindow() ok = false")
	}
	if !start.Equal(mustTime(t, "2025-06-05T16:10:02Z")) || !end.Equal(mustTime(t, "2025-06-05T16:31:02Z")) {
		t.Errorf("ParseWindow() = %v, %v", start, end)
	}

	if _, _, ok := discovery.ParseWindow("no timestamps here"); ok {
		t.Error("ParseWindow() ok = true for description without timestamps")
	}

	single, end2, ok := discovery.ParseWindow("spike at 2025-06-07T01:00:00Z")
	if !ok || !single.Equal(end2) {
		t.Errorf("single timestamp window = %v..%v, ok=%v", single, end2, ok)
	}
}

func TestHintListsPartitionFiles(t *testing.T) {
	root := newTestRoot(t, []string{"2025-06-06"}, "log-parquet", "apm")
	d := discovery.New(root, zerolog.Nop())

	hint := d.Hint(mustTime(t, "2025-06-05T16:10:00Z"), mustTime(t, "2025-06-05T16:31:00Z"))
	for _, want := range []string{"2025-06-06", "log (1)", "metric-apm (1)", "log-parquet_2025-06-06.parquet"} {
		if !strings.Contains(hint, want) {
			t.Errorf("Hint() missing %q:\n%s", want, hint)
		}
	}
}
