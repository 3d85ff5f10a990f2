package batch_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/agentoven/rootcause/internal/batch"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

const inputJSON = `[
  {"uuid": "33c11d00-2", "Anomaly Description": "The system experienced an anomaly from 2025-06-05T16:10:02Z to 2025-06-05T16:31:02Z. Please infer the possible cause."},
  {"uuid": "a-2", "description": "Latency rose at 2025-06-06T01:00:00Z."},
  {"uuid": "a-3", "description": "No timestamps here."}
]`

func TestLoadCases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte(inputJSON), 0o644))

	cases, err := batch.LoadCases(path, 0)
	if err != nil {
		t.Fatalf("LoadCases() error = %v", err)
	}
	require.Len(t, cases, 3)

	first := cases[0]
	assert.Equal(t, "33c11d00-2", first.UUID)
	assert.Equal(t, time.Date(2025, 6, 5, 16, 10, 2, 0, time.UTC), first.Start)
	assert.Equal(t, time.Date(2025, 6, 5, 16, 31, 2, 0, time.UTC), first.End)

	assert.Equal(t, cases[1].Start, cases[1].End, "single timestamp gives an instantaneous window")
	assert.False(t, cases[2].HasWindow())
}

func TestParseCasesLimit(t *testing.T) {
	cases, err := batch.ParseCases([]byte(inputJSON), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"33c11d00-2", "a-2"}, []string{cases[0].UUID, cases[1].UUID})
}

func TestParseCasesRejects(t *testing.T) {
	for name, body := range map[string]string{
		"not an array":   `{"uuid": "x"}`,
		"missing uuid":   `[{"description": "x"}]`,
		"duplicate uuid": `[{"uuid": "x"}, {"uuid": "x"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := batch.ParseCases([]byte(body), 0)
			assert.Error(t, err)
		})
	}
}

func TestFeedRingAndSubscribers(t *testing.T) {
	feed := batch.NewFeed(2)
	ch := feed.Subscribe()

	feed.Publish(batch.Event{Kind: batch.EventCaseStarted, UUID: "a"})
	feed.Publish(batch.Event{Kind: batch.EventCaseStarted, UUID: "b"})
	feed.StepHook("b", models.ReasoningStep{Step: 1, Action: "query_logs()"})

	recent := feed.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].UUID)
	assert.Equal(t, batch.EventStep, recent[1].Kind)
	assert.Equal(t, 1, recent[1].Step)

	got := <-ch
	assert.Equal(t, "a", got.UUID)
	assert.False(t, got.Timestamp.IsZero())

	feed.Unsubscribe(ch)
	feed.Unsubscribe(ch)
	var drained int
	for range ch {
		drained++
	}
	assert.Equal(t, 2, drained)
}
