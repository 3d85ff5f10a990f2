// Package router is the model client: it sends a conversation to an
// OpenAI-compatible chat completions endpoint and returns one completion.
// Calls are rate limited and capped in concurrency across all cases.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/errhandler"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// DefaultBaseURL is the local Ollama OpenAI-compatible endpoint.
const DefaultBaseURL = "http://localhost:11434/v1"

// maxErrorBody bounds the error text kept from a failed response.
const maxErrorBody = 2048

// Completer returns a single completion for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (*Response, error)
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Response is one completion.
type Response struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
	Latency time.Duration
}

// Client talks to the configured model backend.
type Client struct {
	cfg     config.ModelConfig
	client  *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	metrics *telemetry.Metrics
	log     zerolog.Logger

	// rolling average latency in ms
	latencyMu sync.RWMutex
	latencyMs int64
}

// New creates a Client. cfg.Concurrency caps in-flight calls and
// cfg.RatePerSecond, when positive, limits the call rate.
func New(cfg config.ModelConfig, metrics *telemetry.Metrics, log zerolog.Logger) *Client {
	c := &Client{
		cfg:     cfg,
		client:  &http.Client{},
		metrics: metrics,
		log:     log.With().Str("model", cfg.Name).Logger(),
	}
	if cfg.Concurrency > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c
}

// ── Wire types ───────────────────────────────────────────────

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// wireMessages maps conversation roles onto chat roles. Tool results are
// sent as user messages since the tool protocol is carried in plain text.
func wireMessages(msgs []models.ChatMessage) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if m.Role == models.RoleTool {
			role = string(models.RoleUser)
		}
		out = append(out, chatMessage{Role: role, Content: m.Content})
	}
	return out
}

// ── Completion ───────────────────────────────────────────────

// Complete sends messages and returns the first choice. Failures are
// returned as *errhandler.ModelError carrying the HTTP status when there
// was one.
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage) (*Response, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "model.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.name", c.cfg.Name),
		attribute.Int("model.messages", len(messages)),
	)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.call(ctx, messages)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.ModelCall(c.cfg.Name, err, elapsed, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		c.log.Debug().Err(err).Dur("duration", elapsed).Msg("Model call failed")
		return nil, err
	}

	resp.Latency = elapsed
	c.trackLatency(elapsed.Milliseconds())
	c.metrics.ModelCall(c.cfg.Name, nil, elapsed, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	span.SetAttributes(
		attribute.Int64("model.tokens.input", resp.Usage.InputTokens),
		attribute.Int64("model.tokens.output", resp.Usage.OutputTokens),
	)
	c.log.Debug().
		Dur("duration", elapsed).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Msg("Model call completed")
	return resp, nil
}

func (c *Client) call(ctx context.Context, messages []models.ChatMessage) (*Response, error) {
	endpoint := c.cfg.BaseURL
	if endpoint == "" {
		endpoint = DefaultBaseURL
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Name,
		Messages:    wireMessages(messages),
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, &errhandler.ModelError{Message: "encode request", Err: err}
	}

	url := strings.TrimRight(endpoint, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &errhandler.ModelError{Message: "invalid config: create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &errhandler.ModelError{Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &errhandler.ModelError{
			StatusCode: httpResp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	var chat chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chat); err != nil {
		return nil, &errhandler.ModelError{Message: "decode response", Err: err}
	}
	if len(chat.Choices) == 0 {
		return nil, &errhandler.ModelError{Message: "server error: empty choices"}
	}

	id := chat.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &Response{
		ID:      id,
		Model:   c.cfg.Name,
		Content: chat.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  chat.Usage.PromptTokens,
			OutputTokens: chat.Usage.CompletionTokens,
			TotalTokens:  chat.Usage.TotalTokens,
		},
	}, nil
}

// ── Latency tracking ─────────────────────────────────────────

func (c *Client) trackLatency(ms int64) {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	if c.latencyMs == 0 {
		c.latencyMs = ms
		return
	}
	// Exponential moving average
	c.latencyMs = (c.latencyMs*7 + ms*3) / 10
}

// AvgLatency returns the rolling average latency of successful calls.
func (c *Client) AvgLatency() time.Duration {
	c.latencyMu.RLock()
	defer c.latencyMu.RUnlock()
	return time.Duration(c.latencyMs) * time.Millisecond
}

// Describe is a one-line summary of the client for logs.
func (c *Client) Describe() string {
	endpoint := c.cfg.BaseURL
	if endpoint == "" {
		endpoint = DefaultBaseURL
	}
	return fmt.Sprintf("%s @ %s (concurrency %d)", c.cfg.Name, endpoint, c.cfg.Concurrency)
}
