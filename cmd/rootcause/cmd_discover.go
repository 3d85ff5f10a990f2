package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentoven/agentoven/rootcause/internal/discovery"
	"github.com/agentoven/agentoven/rootcause/internal/format"
)

var discoverFlags struct {
	dataRoot    string
	window      string
	description string
	markdown    bool
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Show the data partitions a fault window maps to",
	Long: `List the candidate date partitions (UTC+8) for an anomaly window, most
likely first, with their file counts.

Examples:
  rootcause discover --window 2025-06-05T16:10:02Z 2025-06-05T16:31:02Z
  rootcause discover --description "anomaly from 2025-06-05T16:10:02Z to 2025-06-05T16:31:02Z"
  rootcause discover                 # list every available partition`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiscover,
}

func init() {
	f := discoverCmd.Flags()
	f.StringVar(&discoverFlags.dataRoot, "data-root", "", "Root of the date partitions")
	f.StringVar(&discoverFlags.window, "window", "", "Window start in RFC3339; the end follows as an argument")
	f.StringVar(&discoverFlags.description, "description", "", "Case description to extract the window from")
	f.BoolVar(&discoverFlags.markdown, "markdown", false, "Print a Markdown table")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if changed(cmd, "data-root") {
		cfg.Tools.DataRoot = discoverFlags.dataRoot
	}
	disc := discovery.New(cfg.Tools.DataRoot, zerolog.Nop())

	start, end, err := discoverWindow(args)
	if err != nil {
		return err
	}

	var parts []discovery.Partition
	if start.IsZero() {
		dates, err := disc.AvailableDates()
		if err != nil {
			return err
		}
		for _, d := range dates {
			p, err := disc.At(d)
			if err != nil {
				return err
			}
			p.Source = "available"
			parts = append(parts, p)
		}
	} else {
		parts, err = disc.Locate(start, end)
		if err != nil {
			return err
		}
	}

	counts := make(map[string]int, len(parts))
	for _, p := range parts {
		if !p.Exists {
			continue
		}
		index, err := disc.Index(p)
		if err != nil {
			return err
		}
		counts[p.Date] = index.Count()
	}

	fmt.Fprintln(cmd.OutOrStdout(), format.PartitionsTable(parts, counts, tableMode(discoverFlags.markdown)))
	return nil
}

// discoverWindow resolves the window from the flags and the optional end
// argument. A zero start means no window was given.
func discoverWindow(args []string) (start, end time.Time, err error) {
	switch {
	case discoverFlags.description != "":
		s, e, ok := discovery.ParseWindow(discoverFlags.description)
		if !ok {
			return start, end, fmt.Errorf("no UTC timestamp found in description")
		}
		return s, e, nil
	case discoverFlags.window == "":
		if len(args) > 0 {
			return start, end, fmt.Errorf("window end given without --window start")
		}
		return start, end, nil
	}

	start, err = time.Parse(time.RFC3339, discoverFlags.window)
	if err != nil {
		return start, end, fmt.Errorf("parse window start: %w", err)
	}
	end = start
	if len(args) == 1 {
		end, err = time.Parse(time.RFC3339, args[0])
		if err != nil {
			return start, end, fmt.Errorf("parse window end: %w", err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("window end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start.UTC(), end.UTC(), nil
}
