package errhandler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
)

// Action is what the caller should do about a classified error.
type Action string

const (
	ActionRetry    Action = "retry"    // back off, then repeat the call
	ActionCompress Action = "compress" // shrink the conversation, then repeat at once
	ActionReprompt Action = "reprompt" // ask the model to correct its output
	ActionRecord   Action = "record"   // record a failed step and continue the loop
	ActionGiveUp   Action = "give_up"  // retry budget spent for this call
	ActionAbort    Action = "abort"    // terminate the case
)

// Decision is the outcome of classifying one error.
type Decision struct {
	Category Category
	Action   Action
	Delay    time.Duration
	Attempt  int
}

var transientMarkers = []string{
	"connection error", "connection refused", "connection reset", "timeout", "timed out",
	"ssl", "network", "rate limit", "server error", "service unavailable", "bad gateway",
	"gateway timeout", "read timeout", "write timeout", "eof", "overloaded",
}

var fatalMarkers = []string{
	"invalid api key", "unauthorized", "authentication", "permission denied",
	"model not found", "forbidden", "invalid config",
}

var contextLengthMarkers = []string{
	"maximum context length", "context_length", "too many tokens", "context length",
}

// Handler classifies errors. It is safe for concurrent use; per-call retry
// state lives in a Retrier.
type Handler struct {
	cfg     config.RunnerConfig
	rules   []rule
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

// New compiles the configured error rules and returns a Handler.
func New(cfg config.RunnerConfig, rules []config.ErrorRule, metrics *telemetry.Metrics, log zerolog.Logger) (*Handler, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	return &Handler{cfg: cfg, rules: compiled, metrics: metrics, log: log}, nil
}

// Classify maps err to a category and the default action for it. Retry
// budgets are not consulted; see Retrier.Next.
func (h *Handler) Classify(err error) Decision {
	if err == nil {
		return Decision{}
	}
	if errors.Is(err, context.Canceled) {
		return Decision{Category: Fatal, Action: ActionAbort}
	}

	status, msg, kind := describe(err)
	for _, r := range h.rules {
		if cat, ok := r.match(msg, status, kind); ok {
			h.log.Debug().Str("rule", r.src).Str("category", string(cat)).Msg("Error rule matched")
			return Decision{Category: cat, Action: defaultAction(cat)}
		}
	}

	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return Decision{Category: Fatal, Action: ActionAbort}
	}
	var parseErr *ParseFailure
	if errors.As(err, &parseErr) || errors.Is(err, ErrNoToolCall) {
		return Decision{Category: ParseError, Action: ActionReprompt}
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) || errors.Is(err, ErrUnknownTool) || errors.Is(err, ErrToolTimeout) {
		return Decision{Category: ToolExecution, Action: ActionRecord}
	}
	if errors.Is(err, ErrContextLength) || containsAny(msg, contextLengthMarkers) {
		return Decision{Category: Transient, Action: ActionCompress}
	}

	switch {
	case status == 408 || status == 425 || status == 429 || status >= 500:
		return Decision{Category: Transient, Action: ActionRetry}
	case status >= 400:
		return Decision{Category: Fatal, Action: ActionAbort}
	}

	if containsAny(msg, fatalMarkers) {
		return Decision{Category: Fatal, Action: ActionAbort}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || containsAny(msg, transientMarkers) {
		return Decision{Category: Transient, Action: ActionRetry}
	}

	// Unrecognized model failures are retried; the retry budget bounds them.
	return Decision{Category: Transient, Action: ActionRetry}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Suggest returns a one-line hint appended to failed tool observations.
func Suggest(tool, msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "filter") || strings.Contains(m, "operator"):
		return fmt.Sprintf("Suggestion: check the filters of %s; use [column, op, value] with op one of == != < <= > >= in, not in.", tool)
	case strings.Contains(m, "no such file") || (strings.Contains(m, "not found") && strings.Contains(m, "file")):
		return "Suggestion: the file does not exist; call list_partition_files to see the available files."
	case strings.Contains(m, "column"):
		return "Suggestion: a requested column is missing; inspect the file schema first and select existing columns."
	case strings.Contains(m, "memory") || strings.Contains(m, "token") || strings.Contains(m, "too large"):
		return "Suggestion: the result is too large; add filters and request fewer rows or columns."
	case strings.Contains(m, "timed out") || strings.Contains(m, "timeout"):
		return "Suggestion: the call timed out; narrow the time window or add filters."
	case strings.Contains(m, "path"):
		return "Suggestion: use a path relative to the data root, as listed by list_partition_files."
	default:
		return "Suggestion: simplify the parameters and retry with nrows=500."
	}
}

func defaultAction(c Category) Action {
	switch c {
	case Transient:
		return ActionRetry
	case ParseError:
		return ActionReprompt
	case ToolExecution:
		return ActionRecord
	default:
		return ActionAbort
	}
}

// describe extracts the fields error rules are evaluated against.
func describe(err error) (status int, msg, kind string) {
	msg = strings.ToLower(err.Error())
	kind = "other"

	var modelErr *ModelError
	var parseErr *ParseFailure
	var toolErr *ToolError
	var sinkErr *SinkError
	switch {
	case errors.As(err, &modelErr):
		status, kind = modelErr.StatusCode, "model"
	case errors.As(err, &parseErr):
		kind = "parse"
	case errors.As(err, &toolErr):
		kind = "tool"
	case errors.As(err, &sinkErr):
		kind = "sink"
	}
	return status, msg, kind
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// slowClass reports errors that warrant a doubled initial delay.
func slowClass(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
