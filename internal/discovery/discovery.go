// Package discovery maps an incident's UTC anomaly window onto the
// local-dated data partitions that hold its telemetry.
//
// Partitions live under <data_root>/<YYYY-MM-DD>/ where the date follows the
// storage convention of UTC+8. A window of 2025-06-05T16:10Z therefore lands
// in partition 2025-06-06.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LocalZone is the fixed offset used to name partitions.
var LocalZone = time.FixedZone("UTC+8", 8*60*60)

// DateLayout is the partition directory name format.
const DateLayout = "2006-01-02"

// maxClosest bounds the fallback candidates when no window date exists.
const maxClosest = 3

// Group classifies files inside a partition.
type Group string

const (
	GroupLog         Group = "log"
	GroupTrace       Group = "trace"
	GroupMetricAPM   Group = "metric-apm"
	GroupMetricPod   Group = "metric-pod"
	GroupMetricSvc   Group = "metric-service"
	GroupMetricNode  Group = "metric-infra_node"
	GroupMetricIPod  Group = "metric-infra_pod"
	GroupMetricTiDB  Group = "metric-infra_tidb"
	GroupMetricOther Group = "metric-other"
)

// Groups lists the known groups in display order.
var Groups = []Group{
	GroupLog, GroupTrace,
	GroupMetricAPM, GroupMetricPod, GroupMetricSvc,
	GroupMetricNode, GroupMetricIPod, GroupMetricTiDB, GroupMetricOther,
}

// groupDirs maps partition subdirectories to groups.
var groupDirs = map[string]Group{
	"log-parquet":   GroupLog,
	"trace-parquet": GroupTrace,
	"apm":           GroupMetricAPM,
	"pod":           GroupMetricPod,
	"service":       GroupMetricSvc,
	"infra_node":    GroupMetricNode,
	"infra_pod":     GroupMetricIPod,
	"infra_tidb":    GroupMetricTiDB,
	"other":         GroupMetricOther,
}

// Partition is one candidate data partition.
type Partition struct {
	Date   string `json:"date"`
	Dir    string `json:"dir"`
	Exists bool   `json:"exists"`
	// Source is "window" for dates covered by the anomaly window and
	// "closest" for nearest-date fallbacks.
	Source string `json:"source"`
}

// FileIndex lists a partition's files by group.
type FileIndex map[Group][]string

// Count returns the number of files in the index.
func (fi FileIndex) Count() int {
	n := 0
	for _, files := range fi {
		n += len(files)
	}
	return n
}

// Discovery locates partitions below a data root. It holds no per-case state.
type Discovery struct {
	root string
	log  zerolog.Logger
}

// New creates a Discovery rooted at dataRoot.
func New(dataRoot string, log zerolog.Logger) *Discovery {
	return &Discovery{root: dataRoot, log: log}
}

// Root returns the data root.
func (d *Discovery) Root() string {
	return d.root
}

// LocalDate converts an instant to its partition date.
func LocalDate(t time.Time) string {
	return t.In(LocalZone).Format(DateLayout)
}

// LocalDates returns every partition date touched by [start, end], in
// chronological order. A zero or inverted end is treated as start.
func LocalDates(start, end time.Time) []string {
	if end.IsZero() || end.Before(start) {
		end = start
	}
	first := start.In(LocalZone)
	last := end.In(LocalZone)

	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, LocalZone)
	lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, LocalZone)

	var dates []string
	for !day.After(lastDay) {
		dates = append(dates, day.Format(DateLayout))
		day = day.AddDate(0, 0, 1)
	}
	return dates
}

// Locate returns the candidate partitions for a window, most likely first.
// Window dates that exist come first, then missing window dates; when none
// of the window dates exist the closest available partitions are appended.
func (d *Discovery) Locate(start, end time.Time) ([]Partition, error) {
	if start.IsZero() {
		return nil, errors.New("discovery: empty anomaly window")
	}

	var present, missing []Partition
	for _, date := range LocalDates(start, end) {
		p := Partition{Date: date, Dir: filepath.Join(d.root, date), Source: "window"}
		p.Exists = isDir(p.Dir)
		if p.Exists {
			present = append(present, p)
		} else {
			missing = append(missing, p)
		}
	}
	candidates := append(present, missing...)
	if len(present) > 0 {
		return candidates, nil
	}

	available, err := d.AvailableDates()
	if err != nil {
		return candidates, err
	}
	for _, date := range closestDates(LocalDate(start), available, maxClosest) {
		candidates = append(candidates, Partition{
			Date:   date,
			Dir:    filepath.Join(d.root, date),
			Exists: true,
			Source: "closest",
		})
	}
	if len(available) > 0 {
		d.log.Warn().
			Str("target", LocalDate(start)).
			Str("closest", candidates[len(missing)].Date).
			Msg("No partition for anomaly window, using closest available date")
	}
	return candidates, nil
}

// AvailableDates lists partition directories under the root, sorted.
func (d *Discovery) AvailableDates() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("discovery: read data root: %w", err)
	}
	var dates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(DateLayout, e.Name()); err == nil {
			dates = append(dates, e.Name())
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// Index lists the files of a partition grouped by kind. Files in unknown
// subdirectories are ignored.
func (d *Discovery) Index(p Partition) (FileIndex, error) {
	index := make(FileIndex)
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("discovery: read partition %s: %w", p.Date, err)
	}
	for _, e := range entries {
		group, ok := groupDirs[e.Name()]
		if !ok || !e.IsDir() {
			continue
		}
		sub := filepath.Join(p.Dir, e.Name())
		files, err := os.ReadDir(sub)
		if err != nil {
			return nil, fmt.Errorf("discovery: read %s: %w", sub, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			index[group] = append(index[group], filepath.Join(sub, f.Name()))
		}
		sort.Strings(index[group])
	}
	return index, nil
}

// At returns the partition for a local date string.
func (d *Discovery) At(date string) (Partition, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Partition{}, fmt.Errorf("discovery: date %q is not YYYY-MM-DD", date)
	}
	dir := filepath.Join(d.root, date)
	return Partition{Date: date, Dir: dir, Exists: isDir(dir), Source: "window"}, nil
}

// closestDates orders available dates by absolute day distance to target,
// earlier dates winning ties, and returns at most n.
func closestDates(target string, available []string, n int) []string {
	t, err := time.Parse(DateLayout, target)
	if err != nil {
		return nil
	}
	type cand struct {
		date string
		dist int
	}
	cands := make([]cand, 0, len(available))
	for _, a := range available {
		at, err := time.Parse(DateLayout, a)
		if err != nil {
			continue
		}
		days := int(at.Sub(t).Hours() / 24)
		if days < 0 {
			days = -days
		}
		cands = append(cands, cand{date: a, dist: days})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].date < cands[j].date
	})
	out := make([]string, 0, n)
	for i := 0; i < len(cands) && i < n; i++ {
		out = append(out, cands[i].date)
	}
	return out
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ── Window extraction ────────────────────────────────────────

var timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`)

// ParseWindow extracts the anomaly window from a case description. The
// first timestamp is the start and the second the end; a single timestamp
// yields an instantaneous window.
func ParseWindow(description string) (start, end time.Time, ok bool) {
	matches := timestampPattern.FindAllString(description, 2)
	if len(matches) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, matches[0])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end = start
	if len(matches) > 1 {
		if e, err := time.Parse(time.RFC3339, matches[1]); err == nil && !e.Before(start) {
			end = e
		}
	}
	return start.UTC(), end.UTC(), true
}

// ── Prompt hint ──────────────────────────────────────────────

// maxListed caps how many files of one group appear in a hint.
const maxListed = 5

// Hint renders the candidate partitions and their files as a text block
// for the initial user message.
func (d *Discovery) Hint(start, end time.Time) string {
	if start.IsZero() {
		return "No anomaly window found in the description. Use list_partition_files to explore the available dates."
	}

	parts, err := d.Locate(start, end)
	if err != nil {
		d.log.Warn().Err(err).Msg("Partition discovery failed")
		return fmt.Sprintf("Partition discovery failed: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Anomaly window (UTC): %s to %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	fmt.Fprintf(&b, "Partition dates use UTC+8: %s\n", strings.Join(LocalDates(start, end), ", "))

	for _, p := range parts {
		if !p.Exists {
			fmt.Fprintf(&b, "\nPartition %s: no data\n", p.Date)
			continue
		}
		index, err := d.Index(p)
		if err != nil {
			fmt.Fprintf(&b, "\nPartition %s: unreadable (%v)\n", p.Date, err)
			continue
		}
		label := "window"
		if p.Source == "closest" {
			label = "closest available"
		}
		fmt.Fprintf(&b, "\nPartition %s (%s, %d files):\n", p.Date, label, index.Count())
		for _, g := range Groups {
			files := index[g]
			if len(files) == 0 {
				continue
			}
			fmt.Fprintf(&b, "  %s (%d):\n", g, len(files))
			for i, f := range files {
				if i == maxListed {
					fmt.Fprintf(&b, "    ... and %d more\n", len(files)-maxListed)
					break
				}
				fmt.Fprintf(&b, "    - %s\n", f)
			}
		}
	}
	return b.String()
}
