package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

func newTestWebhook(t *testing.T, h http.Handler, secret string) *Webhook {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	w := New(config.NotifyConfig{WebhookURL: srv.URL, Secret: secret}, zerolog.Nop())
	w.initialInterval = time.Millisecond
	return w
}

func summary() models.BatchSummary {
	return models.BatchSummary{RunID: "run-1", Total: 3, Completed: 3, Succeeded: 2, Failed: 1,
		FailureReasons: map[string]int{models.FailureMaxIterations: 1}}
}

func TestSendSignsPayload(t *testing.T) {
	var body []byte
	var sig, kind string
	w := newTestWebhook(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get("X-Rootcause-Signature")
		kind = r.Header.Get("X-Rootcause-Event")
		rw.WriteHeader(http.StatusNoContent)
	}), "s3cret")

	if err := w.Send(context.Background(), NewRunEvent(summary(), nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), sig)
	assert.Equal(t, string(EventRunCompleted), kind)

	var ev Event
	require.NoError(t, json.Unmarshal(body, &ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, 2, ev.Summary.Succeeded)
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	w := newTestWebhook(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			rw.WriteHeader(http.StatusBadGateway)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}), "")

	require.NoError(t, w.Send(context.Background(), NewRunEvent(summary(), errors.New("interrupted"))))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	w := newTestWebhook(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusBadRequest)
	}), "")

	err := w.Send(context.Background(), NewRunEvent(summary(), nil))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewDisabledWithoutURL(t *testing.T) {
	assert.Nil(t, New(config.NotifyConfig{}, zerolog.Nop()))
}

func TestNewRunEventMarksInterruption(t *testing.T) {
	ev := NewRunEvent(summary(), errors.New("batch run-1 interrupted: context canceled"))
	assert.Equal(t, EventRunInterrupted, ev.Type)
	assert.Contains(t, ev.Error, "interrupted")
}
