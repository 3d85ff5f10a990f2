package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/router"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
	"github.com/agentoven/agentoven/rootcause/pkg/server"
)

const input = `[
  {"uuid": "33c11d00-2", "Anomaly Description": "The system experienced an anomaly from 2025-06-05T16:10:02Z to 2025-06-05T16:31:02Z. Please infer the possible cause."},
  {"uuid": "33c11d00-3", "Anomaly Description": "The system experienced an anomaly from 2025-06-05T17:00:00Z to 2025-06-05T17:20:00Z."}
]`

const answer = `<attempt_completion><result>{"component": "checkoutservice", "reason": "disk IO overload", "time": "2025-06-05 16:12:00",
"reasoning_trace": [{"step": 1, "action": "ListFiles", "observation": "logs present"}]}</result></attempt_completion>`

// listThenAnswer lists the partition first and answers once it has seen a
// tool result. It keeps no state, so cases may share it.
type listThenAnswer struct{}

func (listThenAnswer) Complete(ctx context.Context, msgs []models.ChatMessage) (*router.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := "<list_partition_files><date>2025-06-06</date></list_partition_files>"
	if msgs[len(msgs)-1].Role == models.RoleTool {
		content = answer
	}
	return &router.Response{ID: "r", Model: "scripted", Content: content}, nil
}

type testRun struct {
	cfg    *config.Config
	output string
}

func newTestRun(t *testing.T) *testRun {
	t.Helper()
	dir := t.TempDir()

	root := filepath.Join(dir, "data")
	logs := filepath.Join(root, "2025-06-06", "log-parquet")
	require.NoError(t, os.MkdirAll(logs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "log_filebeat-server_2025-06-06_00-00-00.parquet"), []byte("x"), 0o644))

	in := filepath.Join(dir, "input.json")
	require.NoError(t, os.WriteFile(in, []byte(input), 0o644))

	cfg := config.Load()
	cfg.Tools.DataRoot = root
	cfg.Batch.Input = in
	cfg.Batch.Output = filepath.Join(dir, "out", "answer.jsonl")
	cfg.Batch.Concurrency = 2
	cfg.Store.DSN = "sqlite://" + filepath.Join(dir, "history.db")
	cfg.Server.Addr = ""
	cfg.Telemetry.Enabled = false
	cfg.Log.File = ""
	return &testRun{cfg: cfg, output: cfg.Batch.Output}
}

func newTestServer(t *testing.T, run *testRun) *server.Server {
	t.Helper()
	srv, err := server.New(context.Background(), run.cfg, server.Options{
		Console: io.Discard,
		Model:   listThenAnswer{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { srv.Close(context.Background()) })
	return srv
}

func TestRunEndToEnd(t *testing.T) {
	run := newTestRun(t)
	events := make(chan string, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events <- r.Header.Get("X-Rootcause-Event")
	}))
	t.Cleanup(hook.Close)
	run.cfg.Notify.WebhookURL = hook.URL
	srv := newTestServer(t, run)

	summary, err := srv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, srv.RunID(), summary.RunID)

	f, err := os.Open(run.output)
	require.NoError(t, err)
	defer f.Close()

	var uuids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		assert.Equal(t, []string{"component", "reason", "reasoning_trace", "time", "uuid"}, keys)

		var res models.DiagnosisResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &res))
		uuids = append(uuids, res.UUID)
		assert.Equal(t, "checkoutservice", res.Component)
		require.Len(t, res.ReasoningTrace, 1)
		assert.Equal(t, "list_partition_files(date=2025-06-06)", res.ReasoningTrace[0].Action)
		assert.True(t, strings.HasPrefix(res.ReasoningTrace[0].Observation, "Partition 2025-06-06"),
			"observation = %q", res.ReasoningTrace[0].Observation)
	}
	require.NoError(t, sc.Err())
	sort.Strings(uuids)
	assert.Equal(t, []string{"33c11d00-2", "33c11d00-3"}, uuids)

	recs, err := srv.History.ListResults(context.Background(), srv.RunID())
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	select {
	case kind := <-events:
		assert.Equal(t, "run_completed", kind)
	default:
		t.Error("run webhook not delivered")
	}
}

func TestStatusHandlerServesRun(t *testing.T) {
	run := newTestRun(t)
	srv := newTestServer(t, run)

	_, err := srv.Run(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.BatchSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Completed)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/results/33c11d00-3", nil)
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	run := newTestRun(t)
	run.cfg.Runner.MaxIterations = 0

	_, err := server.New(context.Background(), run.cfg, server.Options{Console: io.Discard, Model: listThenAnswer{}})
	if err == nil {
		t.Fatal("New() error = nil, want validation failure")
	}
}
