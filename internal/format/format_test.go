package format_test

import (
	"strings"
	"testing"
	"time"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/discovery"
	"github.com/agentoven/agentoven/rootcause/internal/format"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

func TestSummaryTable(t *testing.T) {
	s := models.BatchSummary{
		RunID:     "run-1",
		Total:     10,
		Completed: 10,
		Succeeded: 7,
		Failed:    3,
		FailureReasons: map[string]int{
			models.FailureMaxIterations: 1,
			models.FailureCancelled:     2,
		},
		SuccessRate: 0.7,
		PerMinute:   4,
		Elapsed:     150 * time.Second,
	}

	out := format.SummaryTable(s, format.ASCII)
	for _, want := range []string{"run-1", "70.0%", "4.00 cases/min", "2m30s", "Failure reason"} {
		if !strings.Contains(out, want) {
			t.Errorf("SummaryTable() missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, models.FailureCancelled) > strings.Index(out, models.FailureMaxIterations) {
		t.Errorf("histogram not sorted by count:\n%s", out)
	}
}

func TestSummaryTableWithoutFailures(t *testing.T) {
	out := format.SummaryTable(models.BatchSummary{RunID: "r", Total: 1, Completed: 1, Succeeded: 1, SuccessRate: 1}, format.Markdown)
	if strings.Contains(out, "Failure reason") {
		t.Errorf("SummaryTable() rendered an empty histogram:\n%s", out)
	}
	if !strings.Contains(out, "| Succeeded |") {
		t.Errorf("SummaryTable(Markdown) = %s", out)
	}
}

func TestModelsTable(t *testing.T) {
	out := format.ModelsTable(config.Models(), config.DefaultModel, format.ASCII)
	if !strings.Contains(out, "qwen3:235b") || !strings.Contains(out, "64000") {
		t.Errorf("ModelsTable() = %s", out)
	}
}

func TestPartitionsTable(t *testing.T) {
	parts := []discovery.Partition{
		{Date: "2025-06-06", Exists: true, Source: "window"},
		{Date: "2025-06-07", Exists: false, Source: "window"},
	}
	out := format.PartitionsTable(parts, map[string]int{"2025-06-06": 12}, format.ASCII)
	if !strings.Contains(out, "12") || !strings.Contains(out, "no") {
		t.Errorf("PartitionsTable() = %s", out)
	}
}
