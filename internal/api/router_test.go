package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/agentoven/rootcause/internal/api"
	"github.com/agentoven/agentoven/rootcause/internal/api/handlers"
	"github.com/agentoven/agentoven/rootcause/internal/batch"
	"github.com/agentoven/agentoven/rootcause/internal/store"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

type fakeProgress struct{ summary models.BatchSummary }

func (p fakeProgress) RunID() string                 { return p.summary.RunID }
func (p fakeProgress) Snapshot() models.BatchSummary { return p.summary }

type testServer struct {
	handler http.Handler
	history *store.MemoryStore
	feed    *batch.Feed
}

func newTestServer(t *testing.T, keys ...string) *testServer {
	t.Helper()

	history := store.NewMemoryStore()
	feed := batch.NewFeed(16)
	progress := fakeProgress{summary: models.BatchSummary{
		RunID:          "run-1",
		Total:          4,
		Completed:      2,
		Succeeded:      1,
		Failed:         1,
		FailureReasons: map[string]int{models.FailureMaxIterations: 1},
	}}

	h := &handlers.Handlers{Progress: progress, History: history, Feed: feed, Log: zerolog.Nop()}
	return &testServer{
		handler: api.NewRouter(api.Options{
			Version:  "1.2.3",
			APIKeys:  keys,
			Metrics:  telemetry.NewMetrics(),
			Handlers: h,
			Log:      zerolog.Nop(),
		}),
		history: history,
		feed:    feed,
	}
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func diagnosis(uuid, component string) *models.DiagnosisResult {
	return &models.DiagnosisResult{
		UUID:      uuid,
		Component: component,
		Reason:    "cpu spike",
		Time:      "2025-06-05 16:12:00",
		ReasoningTrace: []models.ReasoningStep{
			{Step: 1, Action: "query_metrics(service=" + component + ")", Observation: "cpu spike"},
		},
		Status: models.StatusSuccess,
	}
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = s.get(t, "/version")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body["version"])
}

func TestGetProgress(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "/api/v1/progress")
	require.Equal(t, http.StatusOK, w.Code)

	var got models.BatchSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 2, got.Completed)
	assert.Equal(t, 1, got.FailureReasons[models.FailureMaxIterations])
}

func TestResults(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.history.SaveResult(ctx, store.NewRecord("run-1", diagnosis("c-1", "checkoutservice"))))
	require.NoError(t, s.history.SaveResult(ctx, store.NewRecord("run-1", diagnosis("c-2", "redis-cart"))))

	w := s.get(t, "/api/v1/results/c-2")
	require.Equal(t, http.StatusOK, w.Code)
	var rec store.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "redis-cart", rec.Result.Component)

	w = s.get(t, "/api/v1/results/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.get(t, "/api/v1/runs/current/results")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []store.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "c-1", recs[0].UUID)

	w = s.get(t, "/api/v1/runs/other/results")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestStreamEventsReplaysUntilRunFinished(t *testing.T) {
	s := newTestServer(t)
	s.feed.Publish(batch.Event{Kind: batch.EventCaseStarted, UUID: "c-1"})
	s.feed.StepHook("c-1", models.ReasoningStep{Step: 1, Action: "query_logs()"})
	s.feed.Publish(batch.Event{Kind: batch.EventCaseFinished, UUID: "c-1", Status: "success"})
	s.feed.Publish(batch.Event{Kind: batch.EventRunFinished, Completed: 1, Total: 1})

	w := s.get(t, "/api/v1/events")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 4, strings.Count(body, "data: "))
	assert.Contains(t, body, "event: step\n")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Less(t, strings.Index(body, "case_started"), strings.Index(body, "run_finished"))
}

func TestRecentEvents(t *testing.T) {
	s := newTestServer(t)
	for i := 1; i <= 3; i++ {
		s.feed.StepHook("c-1", models.ReasoningStep{Step: i, Action: "query_logs()"})
	}

	w := s.get(t, "/api/v1/events/recent?n=2")
	require.Equal(t, http.StatusOK, w.Code)
	var events []batch.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Step)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rootcause_inflight_cases")
}

func TestAPIKeysGuardStatusRoutes(t *testing.T) {
	s := newTestServer(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, s.get(t, "/api/v1/progress").Code)
	assert.Equal(t, http.StatusOK, s.get(t, "/health").Code)
	assert.Equal(t, http.StatusOK, s.get(t, "/api/v1/progress?api_key=secret").Code)
}
