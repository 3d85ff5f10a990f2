// Package executor runs the reason, act and observe loop that diagnoses a
// single case.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/contextmgr"
	"github.com/agentoven/agentoven/rootcause/internal/discovery"
	"github.com/agentoven/agentoven/rootcause/internal/errhandler"
	"github.com/agentoven/agentoven/rootcause/internal/router"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
	"github.com/agentoven/agentoven/rootcause/internal/tools"
	"github.com/agentoven/agentoven/rootcause/internal/validator"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// Deps are the collaborators of a Runner. All except Metrics and OnStep
// are required.
type Deps struct {
	Model     router.Completer
	Tools     *tools.Executor
	Validator *validator.Validator
	Errors    *errhandler.Handler
	Discovery *discovery.Discovery
	Context   contextmgr.Options
	Estimator contextmgr.Estimator
	Metrics   *telemetry.Metrics
	Log       zerolog.Logger

	// OnStep is called after every recorded reasoning step.
	OnStep func(uuid string, step models.ReasoningStep)
}

// Runner diagnoses cases. A Runner is safe for concurrent use; every case
// gets its own conversation state.
type Runner struct {
	cfg      config.RunnerConfig
	deps     Deps
	registry *tools.Registry
	system   string
}

// New validates deps and prepares the system prompt.
func New(cfg config.RunnerConfig, deps Deps) (*Runner, error) {
	switch {
	case deps.Model == nil:
		return nil, errors.New("executor: model client is required")
	case deps.Tools == nil:
		return nil, errors.New("executor: tool executor is required")
	case deps.Validator == nil:
		return nil, errors.New("executor: validator is required")
	case deps.Errors == nil:
		return nil, errors.New("executor: error handler is required")
	case deps.Discovery == nil:
		return nil, errors.New("executor: discovery is required")
	case deps.Estimator == nil:
		return nil, errors.New("executor: token estimator is required")
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("executor: max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 1
	}
	registry := deps.Tools.Registry()
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		registry: registry,
		system:   buildSystemPrompt(registry.Schemas()),
	}, nil
}

// caseState is the mutable state of one case.
type caseState struct {
	c   models.Case
	log zerolog.Logger
	cm  *contextmgr.Manager

	steps      []models.ReasoningStep
	iterations int

	// candidate is the last final answer that failed validation.
	candidate *validator.Answer
	// component is the last component named in tool arguments.
	component string

	modelFailures   int
	lastParseFailed bool
}

// Run diagnoses c. It always returns a result; failures yield a fallback
// result whose Status and FailureReason say what went wrong.
func (r *Runner) Run(ctx context.Context, c models.Case) *models.DiagnosisResult {
	start := time.Now()
	if r.cfg.CaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CaseTimeout)
		defer cancel()
	}
	ctx, span := telemetry.Tracer().Start(ctx, "case.run")
	defer span.End()
	span.SetAttributes(attribute.String("case.uuid", c.UUID))

	if !c.HasWindow() {
		if s, e, ok := discovery.ParseWindow(c.Description); ok {
			c.Start, c.End = s, e
		}
	}

	log := r.deps.Log.With().Str("uuid", c.UUID).Logger()
	st := &caseState{
		c:   c,
		log: log,
		cm:  contextmgr.New(r.deps.Context, r.deps.Estimator, r.deps.Metrics, log),
	}
	st.cm.Append(models.ChatMessage{Role: models.RoleSystem, Content: r.system})
	st.cm.Append(models.ChatMessage{Role: models.RoleUser, Content: buildTaskPrompt(c, r.deps.Discovery.Hint(c.Start, c.End))})

	log.Info().
		Bool("window", c.HasWindow()).
		Int("tools", len(r.registry.Names())).
		Msg("Case started")

	res := r.loop(ctx, st)
	res.UUID = c.UUID
	res.Iterations = st.iterations
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("case.status", string(res.Status)),
		attribute.Int("case.iterations", res.Iterations),
		attribute.Int("case.steps", len(res.ReasoningTrace)),
	)
	ev := log.Info()
	if !res.Succeeded() {
		span.SetStatus(codes.Error, res.FailureReason)
		ev = log.Warn().Str("failure", res.FailureReason).Str("detail", res.Detail)
	}
	ev.Str("status", string(res.Status)).
		Str("component", res.Component).
		Int("iterations", res.Iterations).
		Int("steps", len(res.ReasoningTrace)).
		Dur("duration", res.Duration).
		Msg("Case finished")
	return res
}

func (r *Runner) loop(ctx context.Context, st *caseState) *models.DiagnosisResult {
	for st.iterations < r.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return r.cancelled(st, err)
		}
		st.iterations++
		if res := r.iterate(ctx, st); res != nil {
			return res
		}
	}
	reason := models.FailureMaxIterations
	if st.lastParseFailed {
		reason = models.FailureNoToolCall
	}
	return r.fallback(st, models.StatusExhausted, reason, fmt.Sprintf("no valid answer after %d iterations", st.iterations))
}

// iterate runs one reason/act/observe iteration. It returns a terminal
// result, or nil when the loop should go on.
func (r *Runner) iterate(ctx context.Context, st *caseState) *models.DiagnosisResult {
	retrier := r.deps.Errors.NewRetrier()
	for {
		resp, err := r.deps.Model.Complete(ctx, st.cm.Render())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.cancelled(st, ctxErr)
			}
			d := retrier.Next(err)
			switch d.Action {
			case errhandler.ActionRetry:
				if err := errhandler.Sleep(ctx, d.Delay); err != nil {
					return r.cancelled(st, err)
				}
				continue
			case errhandler.ActionCompress:
				st.cm.CompressAggressive()
				continue
			case errhandler.ActionAbort:
				return r.fallback(st, models.StatusFailed, models.FailureFatal, err.Error())
			}

			st.modelFailures++
			if st.modelFailures >= r.cfg.MaxConsecutiveFailures {
				return r.fallback(st, models.StatusFailed, models.FailureModelUnavailable, err.Error())
			}
			st.log.Warn().Err(err).Int("consecutive", st.modelFailures).Msg("Model unavailable, iteration wasted")
			return nil
		}
		st.modelFailures = 0

		p := parseResponse(resp.Content, r.registry.Known)
		if !p.found {
			d := retrier.Next(&errhandler.ParseFailure{Reason: "no tool call", Err: errhandler.ErrNoToolCall})
			st.cm.Append(models.ChatMessage{Role: models.RoleAssistant, Content: resp.Content})
			st.cm.Append(models.ChatMessage{Role: models.RoleUser, Content: noToolCallMessage(append(r.registry.Names(), tools.CompletionTool))})
			if d.Action == errhandler.ActionReprompt {
				continue
			}
			st.lastParseFailed = true
			return nil
		}
		st.lastParseFailed = false
		if p.extra > 0 {
			st.log.Debug().Str("tool", p.call.Name).Int("ignored", p.extra).Msg("Multiple tool calls, using the first")
		}
		return r.act(ctx, st, resp.Content, p.call)
	}
}

// act executes or rejects call and records the step.
func (r *Runner) act(ctx context.Context, st *caseState, content string, call models.ToolCall) *models.DiagnosisResult {
	st.cm.Append(models.ChatMessage{Role: models.RoleAssistant, Content: content})
	if call.Name == tools.CompletionTool {
		return r.finish(st, call)
	}

	args := call.Arguments
	var obs models.Observation
	if schema, ok := r.registry.Schema(call.Name); ok {
		norm, err := r.deps.Validator.Validate(call, schema)
		if err != nil {
			st.log.Debug().Err(err).Str("tool", call.Name).Msg("Tool call rejected")
			obs = models.Observation{Success: false, Error: err.Error()}
		} else {
			args = norm
			obs = r.deps.Tools.Execute(ctx, models.ToolCall{Name: call.Name, Arguments: norm})
		}
	} else {
		obs = r.deps.Tools.Execute(ctx, call)
	}
	st.noteComponent(args)

	step := models.ReasoningStep{
		Step:        len(st.steps) + 1,
		Action:      renderAction(call.Name, args),
		Observation: summarize(obs, r.cfg.TraceObservationChars),
	}
	st.steps = append(st.steps, step)
	if r.deps.OnStep != nil {
		r.deps.OnStep(st.c.UUID, step)
	}

	result := st.cm.TrimToolResult(formatToolResult(call.Name, obs))
	st.cm.Append(models.ChatMessage{Role: models.RoleTool, Content: result + continuePrompt})

	if err := ctx.Err(); err != nil {
		return r.cancelled(st, err)
	}
	return nil
}

// finish validates a proposed final answer. A rejected answer is fed back
// to the model and kept as the fallback candidate.
func (r *Runner) finish(st *caseState, call models.ToolCall) *models.DiagnosisResult {
	ans, err := validator.ParseAnswer(resultText(call.Arguments["result"]))
	if err != nil {
		if ans != nil && ans.Component != "" {
			st.candidate = ans
		}
		st.log.Debug().Err(err).Msg("Final answer rejected")
		st.cm.Append(models.ChatMessage{Role: models.RoleTool, Content: rejectedAnswerMessage(err)})
		return nil
	}

	trace := st.steps
	if len(trace) == 0 {
		trace = r.renumber(ans.ReasoningTrace)
	}
	if len(trace) == 0 {
		trace = []models.ReasoningStep{{Step: 1, Action: tools.CompletionTool, Observation: "answer submitted without tool evidence"}}
	}
	return &models.DiagnosisResult{
		Component:      ans.Component,
		Reason:         ans.Reason,
		Time:           ans.Time,
		ReasoningTrace: append([]models.ReasoningStep(nil), trace...),
		Status:         models.StatusSuccess,
	}
}

// ── Fallback ─────────────────────────────────────────────────

func (r *Runner) cancelled(st *caseState, err error) *models.DiagnosisResult {
	detail := err.Error()
	if errors.Is(err, context.DeadlineExceeded) && r.cfg.CaseTimeout > 0 {
		detail = fmt.Sprintf("case timeout %s exceeded", r.cfg.CaseTimeout)
	}
	return r.fallback(st, models.StatusCancelled, models.FailureCancelled, detail)
}

// fallback synthesizes a result from whatever the case produced so far.
func (r *Runner) fallback(st *caseState, status models.Status, reason, detail string) *models.DiagnosisResult {
	res := models.NewFallback(st.c, status, reason, detail)
	switch {
	case st.candidate != nil:
		res.Component = st.candidate.Component
		if st.candidate.Reason != "" {
			res.Reason = st.candidate.Reason
		}
		if st.candidate.Time != "" {
			res.Time = st.candidate.Time
		}
	case st.component != "":
		res.Component = st.component
	}

	if len(st.steps) > 0 {
		res.ReasoningTrace = append([]models.ReasoningStep(nil), st.steps...)
	} else {
		res.ReasoningTrace[0].Observation = clip(res.ReasoningTrace[0].Observation, r.cfg.TraceObservationChars)
	}
	return res
}

// componentKeys are argument names that identify a component, most
// specific first.
var componentKeys = []string{"component", "service", "service_name", "pod_name", "pod", "node"}

func (st *caseState) noteComponent(args map[string]any) {
	for _, k := range componentKeys {
		if s, ok := args[k].(string); ok && strings.TrimSpace(s) != "" {
			st.component = strings.TrimSpace(s)
			return
		}
	}
}

// ── Trace Helpers ────────────────────────────────────────────

// renumber adopts a model-written trace with contiguous step numbers.
func (r *Runner) renumber(in []models.ReasoningStep) []models.ReasoningStep {
	out := make([]models.ReasoningStep, 0, len(in))
	for _, s := range in {
		out = append(out, models.ReasoningStep{
			Step:        len(out) + 1,
			Action:      oneLine(s.Action),
			Observation: clip(oneLine(s.Observation), r.cfg.TraceObservationChars),
		})
	}
	return out
}

var evidenceWords = []string{"error", "exception", "fail", "timeout", "anomal", "spike", "peak", "loop", "oom", "high"}

// summarize reduces an observation to one trace line that leads with the
// key evidence.
func summarize(obs models.Observation, limit int) string {
	var first string
	for _, raw := range strings.Split(obs.Text(), "\n") {
		line := oneLine(raw)
		if line == "" || strings.HasPrefix(line, "===") {
			continue
		}
		if first == "" {
			first = line
			if !obs.Success {
				break
			}
		}
		if hasEvidence(line) {
			first = line
			break
		}
	}
	if first == "" {
		first = "(empty result)"
	}
	if !obs.Success {
		first = "ERROR: " + first
	}
	return clip(first, limit)
}

func hasEvidence(line string) bool {
	l := strings.ToLower(line)
	for _, w := range evidenceWords {
		if strings.Contains(l, w) {
			return true
		}
	}
	return false
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

// resultText recovers the raw result text of attempt_completion. The
// parser decodes JSON-looking values, so objects are encoded back.
func resultText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
