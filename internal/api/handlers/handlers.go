// Package handlers serves the read-only status API of a diagnosis run.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/batch"
	"github.com/agentoven/agentoven/rootcause/internal/store"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// replayEvents is how much feed history a new event stream receives.
const replayEvents = 200

// Progress reports the live summary of the current run.
type Progress interface {
	RunID() string
	Snapshot() models.BatchSummary
}

// Handlers holds dependencies for the status handlers.
type Handlers struct {
	Progress Progress
	History  store.Store
	Feed     *batch.Feed
	Log      zerolog.Logger
}

// GetProgress returns the live batch summary.
// GET /api/v1/progress
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	if h.Progress == nil {
		respondError(w, http.StatusServiceUnavailable, "no run in progress")
		return
	}
	respondJSON(w, http.StatusOK, h.Progress.Snapshot())
}

// GetResult returns the latest recorded diagnosis of one case.
// GET /api/v1/results/{uuid}
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		respondError(w, http.StatusServiceUnavailable, "history store not available")
		return
	}
	uuid := chi.URLParam(r, "uuid")

	rec, err := h.History.GetResult(r.Context(), uuid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no result for case '%s'", uuid))
		return
	}
	if err != nil {
		h.Log.Error().Err(err).Str("uuid", uuid).Msg("Failed to load result")
		respondError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ListRunResults returns every record of one run. The run ID "current"
// names the run being served.
// GET /api/v1/runs/{runID}/results
func (h *Handlers) ListRunResults(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		respondError(w, http.StatusServiceUnavailable, "history store not available")
		return
	}
	runID := chi.URLParam(r, "runID")
	if runID == "current" && h.Progress != nil {
		runID = h.Progress.RunID()
	}

	recs, err := h.History.ListResults(r.Context(), runID)
	if err != nil {
		h.Log.Error().Err(err).Str("run_id", runID).Msg("Failed to list results")
		respondError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// RecentEvents returns the progress feed history without streaming.
// GET /api/v1/events/recent?n=50
func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.Feed == nil {
		respondError(w, http.StatusServiceUnavailable, "progress feed not available")
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	respondJSON(w, http.StatusOK, h.Feed.Recent(n))
}

// StreamEvents streams progress events via Server-Sent Events. Recent
// history is replayed first. The stream ends when the run finishes or the
// client disconnects.
// GET /api/v1/events
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Feed == nil {
		respondError(w, http.StatusServiceUnavailable, "progress feed not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch := h.Feed.Subscribe()
	defer h.Feed.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, ev := range h.Feed.Recent(replayEvents) {
		writeEvent(w, ev)
		if ev.Kind == batch.EventRunFinished {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
			if ev.Kind == batch.EventRunFinished {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev batch.Event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
