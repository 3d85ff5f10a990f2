package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentoven/agentoven/rootcause/internal/discovery"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// maxFilesPerGroup caps a list_partition_files listing.
const maxFilesPerGroup = 50

// previewLines is how many lines inspect_file shows of a text file.
const previewLines = 5

// previewLineChars caps each preview line, in runes.
const previewLineChars = 400

var textExtensions = map[string]bool{".log": true, ".txt": true, ".csv": true, ".json": true, ".jsonl": true}

// Builtins returns the data-root tools backed by disc.
func Builtins(disc *discovery.Discovery) []Tool {
	return []Tool{
		Func{Def: listPartitionSchema, Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return listPartitionFiles(ctx, disc, args)
		}},
		Func{Def: inspectFileSchema, Fn: inspectFile},
	}
}

var listPartitionSchema = models.ToolSchema{
	Name:        "list_partition_files",
	Description: "List the data files of one local-date partition (UTC+8), grouped by kind.",
	Params: []models.ParamSpec{
		{Name: "date", Kind: models.KindString, Required: true, Description: "partition date, YYYY-MM-DD"},
		{Name: "group", Kind: models.KindString, Description: "only this group: log, trace, metric-apm, metric-pod, metric-service, metric-infra_node, metric-infra_pod, metric-infra_tidb, metric-other"},
	},
}

var inspectFileSchema = models.ToolSchema{
	Name:        "inspect_file",
	Description: "Show size, modification time and, for text files, the first lines of a file under the data root.",
	Params: []models.ParamSpec{
		{Name: "file_path", Kind: models.KindPath, Required: true, Description: "path as listed by list_partition_files"},
	},
}

func listPartitionFiles(ctx context.Context, disc *discovery.Discovery, args map[string]any) (string, error) {
	date, _ := args["date"].(string)
	p, err := disc.At(strings.TrimSpace(date))
	if err != nil {
		return "", err
	}
	if !p.Exists {
		dates, _ := disc.AvailableDates()
		return "", fmt.Errorf("partition %s not found; available dates: %s", p.Date, strings.Join(dates, ", "))
	}

	var only discovery.Group
	if g, _ := args["group"].(string); g != "" {
		only = discovery.Group(g)
		if !knownGroup(only) {
			return "", fmt.Errorf("unknown group %q", g)
		}
	}

	index, err := disc.Index(p)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Partition %s: %d files\n", p.Date, index.Count())
	for _, g := range discovery.Groups {
		if only != "" && g != only {
			continue
		}
		files := index[g]
		if len(files) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d):\n", g, len(files))
		for i, f := range files {
			if i == maxFilesPerGroup {
				fmt.Fprintf(&b, "  ... and %d more\n", len(files)-maxFilesPerGroup)
				break
			}
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	return b.String(), nil
}

// clipLine cuts s to at most n runes so previews stay valid UTF-8.
func clipLine(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func knownGroup(g discovery.Group) bool {
	for _, k := range discovery.Groups {
		if k == g {
			return true
		}
	}
	return false
}

func inspectFile(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["file_path"].(string)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "file: %s\n", path)
	fmt.Fprintf(&b, "size: %d bytes\n", info.Size())
	fmt.Fprintf(&b, "modified: %s\n", info.ModTime().UTC().Format(time.RFC3339))

	if !textExtensions[strings.ToLower(filepath.Ext(path))] {
		return b.String(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b.WriteString("preview:\n")
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 0; n < previewLines && sc.Scan(); n++ {
		fmt.Fprintf(&b, "  %s\n", clipLine(sc.Text(), previewLineChars))
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return b.String(), nil
}
