// Package format renders run summaries and listings as terminal or
// Markdown tables.
package format

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/discovery"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // Fixed-width terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

func newWriter(m Mode) table.Writer {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return w
}

func render(w table.Writer, m Mode) string {
	if m == Markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// SummaryTable renders the totals of a batch run followed by the failure
// histogram, most frequent reason first.
func SummaryTable(s models.BatchSummary, m Mode) string {
	w := newWriter(m)
	w.SetTitle("Run " + s.RunID)
	w.AppendHeader(table.Row{"Metric", "Value"})
	w.AppendRows([]table.Row{
		{"Cases", s.Total},
		{"Completed", s.Completed},
		{"Succeeded", s.Succeeded},
		{"Failed", s.Failed},
		{"Success rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100)},
		{"Throughput", fmt.Sprintf("%.2f cases/min", s.PerMinute)},
		{"Elapsed", s.Elapsed.Round(time.Second).String()},
	})
	w.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	out := render(w, m)

	reasons := s.SortedReasons()
	if len(reasons) == 0 {
		return out
	}
	h := newWriter(m)
	h.AppendHeader(table.Row{"Failure reason", "Cases"})
	for _, r := range reasons {
		h.AppendRow(table.Row{r.Reason, r.Count})
	}
	h.AppendFooter(table.Row{"Total", s.Failed})
	h.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	return out + "\n" + render(h, m)
}

// ModelsTable lists the known model profiles.
func ModelsTable(profiles []config.ModelProfile, current string, m Mode) string {
	w := newWriter(m)
	w.AppendHeader(table.Row{"", "Model", "Context", "Notes"})
	for _, p := range profiles {
		mark := ""
		if p.Name == current {
			mark = "*"
		}
		w.AppendRow(table.Row{mark, p.Name, p.ContextLength, p.Description})
	}
	w.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	return render(w, m)
}

// PartitionsTable lists candidate partitions with their file counts.
func PartitionsTable(parts []discovery.Partition, counts map[string]int, m Mode) string {
	w := newWriter(m)
	w.AppendHeader(table.Row{"Date", "Source", "Present", "Files"})
	for _, p := range parts {
		present := "no"
		files := "-"
		if p.Exists {
			present = "yes"
			files = fmt.Sprint(counts[p.Date])
		}
		w.AppendRow(table.Row{p.Date, p.Source, present, files})
	}
	w.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignRight}})
	return render(w, m)
}
