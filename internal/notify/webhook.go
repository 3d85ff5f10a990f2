// Package notify posts run events to a webhook.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// EventType describes what happened.
type EventType string

const (
	EventRunCompleted   EventType = "run_completed"
	EventRunInterrupted EventType = "run_interrupted"
)

// maxAttempts bounds delivery of one event.
const maxAttempts = 3

// Event is the webhook payload.
type Event struct {
	Type      EventType           `json:"type"`
	RunID     string              `json:"run_id"`
	Summary   models.BatchSummary `json:"summary"`
	Error     string              `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewRunEvent describes the end of a run. A non-nil runErr marks the run
// as interrupted.
func NewRunEvent(summary models.BatchSummary, runErr error) Event {
	ev := Event{
		Type:      EventRunCompleted,
		RunID:     summary.RunID,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	}
	if runErr != nil {
		ev.Type = EventRunInterrupted
		ev.Error = runErr.Error()
	}
	return ev
}

// Webhook sends events via HTTP POST with optional HMAC-SHA256 signing.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	log    zerolog.Logger

	// initialInterval seeds the retry backoff.
	initialInterval time.Duration
}

// New returns a Webhook for cfg, or nil when no URL is configured.
func New(cfg config.NotifyConfig, log zerolog.Logger) *Webhook {
	if cfg.WebhookURL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Webhook{
		url:             cfg.WebhookURL,
		secret:          cfg.Secret,
		client:          &http.Client{Timeout: timeout},
		log:             log,
		initialInterval: 2 * time.Second,
	}
}

// Send posts ev, retrying transport errors and 5xx responses.
func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var sig string
	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		sig = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "rootcause-webhook/1.0")
		req.Header.Set("X-Rootcause-Event", string(ev.Type))
		req.Header.Set("X-Rootcause-Run", ev.RunID)
		if sig != "" {
			req.Header.Set("X-Rootcause-Signature", sig)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook HTTP %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook HTTP %d", resp.StatusCode))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("webhook failed after %d attempts: %w", attempt, err)
	}

	w.log.Info().Str("event", string(ev.Type)).Int("attempts", attempt).Msg("Webhook delivered")
	return nil
}
