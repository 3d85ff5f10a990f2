package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/agentoven/agentoven/rootcause/internal/errhandler"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// Executor runs validated tool calls against the registry. Every outcome,
// including unknown tools, timeouts and panics, becomes an Observation.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

// NewExecutor creates an Executor enforcing timeout per call.
func NewExecutor(registry *Registry, timeout time.Duration, metrics *telemetry.Metrics, log zerolog.Logger) *Executor {
	return &Executor{registry: registry, timeout: timeout, metrics: metrics, log: log}
}

// Registry returns the executor's registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

type callResult struct {
	out string
	err error
}

// Execute runs call and reports the outcome. It never returns an error;
// failures are described in the Observation.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.Observation {
	ctx, span := telemetry.Tracer().Start(ctx, "tool.call")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	start := time.Now()
	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		err := fmt.Errorf("%w %q; available tools: %s", errhandler.ErrUnknownTool, call.Name, strings.Join(e.registry.Names(), ", "))
		e.metrics.ToolCall(call.Name, "unknown", 0)
		span.SetStatus(codes.Error, "unknown tool")
		return models.Observation{Success: false, Error: err.Error()}
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := tool.Call(callCtx, call.Arguments)
		done <- callResult{out: out, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	elapsed := time.Since(start)

	outcome := "ok"
	obs := models.Observation{Success: true, Payload: res.out, Duration: elapsed}
	switch {
	case res.err == nil:
	case errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil:
		outcome = "timeout"
		msg := fmt.Sprintf("%v after %s", errhandler.ErrToolTimeout, e.timeout)
		obs = models.Observation{Success: false, Error: msg + "\n" + errhandler.Suggest(call.Name, msg), Duration: elapsed}
	default:
		outcome = "error"
		terr := &errhandler.ToolError{Tool: call.Name, Err: res.err}
		obs = models.Observation{Success: false, Error: terr.Error() + "\n" + errhandler.Suggest(call.Name, res.err.Error()), Duration: elapsed}
	}

	e.metrics.ToolCall(call.Name, outcome, elapsed)
	span.SetAttributes(attribute.String("tool.outcome", outcome))
	if !obs.Success {
		span.SetStatus(codes.Error, outcome)
	}
	e.log.Debug().
		Str("tool", call.Name).
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Int("payload_bytes", len(obs.Payload)).
		Msg("Tool executed")
	return obs
}
