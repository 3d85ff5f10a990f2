package models

import (
	"sort"
	"strings"
	"time"
)

// ── Case ─────────────────────────────────────────────────────

// Case is one incident to diagnose. Start and End are the UTC anomaly
// window parsed from the description; both are zero when none was found.
type Case struct {
	UUID        string    `json:"uuid"`
	Description string    `json:"description"`
	Start       time.Time `json:"start,omitempty"`
	End         time.Time `json:"end,omitempty"`
}

// HasWindow reports whether an anomaly window was recovered for the case.
func (c Case) HasWindow() bool {
	return !c.Start.IsZero()
}

// ── Conversation ─────────────────────────────────────────────

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one entry of a case's conversation state.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Tokens is the estimated cost of Content, filled in by the context manager.
	Tokens int `json:"-"`
	// Condensed marks a tool result whose payload was replaced by a synopsis.
	Condensed bool `json:"-"`
}

// ── Tool Calls ───────────────────────────────────────────────

// ToolCall is a single tool invocation parsed from a model response.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Observation is the outcome of executing (or rejecting) a tool call.
type Observation struct {
	Success  bool          `json:"success"`
	Payload  string        `json:"payload,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Text returns the payload on success and the error description otherwise.
func (o Observation) Text() string {
	if o.Success {
		return o.Payload
	}
	return o.Error
}

// ── Tool Schemas ─────────────────────────────────────────────

// ParamKind is the declared type of a tool parameter.
type ParamKind string

const (
	KindString    ParamKind = "string"
	KindInteger   ParamKind = "integer"
	KindNumber    ParamKind = "number"
	KindBoolean   ParamKind = "boolean"
	KindObject    ParamKind = "object"
	KindArray     ParamKind = "array"
	KindTimestamp ParamKind = "timestamp" // normalized to canonical UTC form
	KindPath      ParamKind = "path"      // must resolve inside the data root
	KindRows      ParamKind = "rows"      // integer row count with default and ceiling
	KindColumns   ParamKind = "columns"   // column list, trimmed when too wide
	KindFilters   ParamKind = "filters"   // list of [column, op, value]
)

// ParamSpec declares one tool parameter.
type ParamSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Kind        ParamKind `json:"kind" yaml:"kind"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Required    bool      `json:"required,omitempty" yaml:"required"`
}

// ToolSchema describes a tool to both the model and the parameter validator.
type ToolSchema struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Params      []ParamSpec `json:"params" yaml:"params"`
}

// Param looks up a parameter by name.
func (s ToolSchema) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// ── Diagnosis ────────────────────────────────────────────────

// ReasoningStep is one {step, action, observation} triple of a trace.
type ReasoningStep struct {
	Step        int    `json:"step"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// Status is the terminal state of a case.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Failure reason categories used by the batch histogram.
const (
	FailureMaxIterations    = "max_iterations"
	FailureModelUnavailable = "model_unavailable"
	FailureFatal            = "fatal_error"
	FailureNoToolCall       = "no_tool_call"
	FailureCancelled        = "cancelled"
	FailureException        = "exception"
)

// DiagnosisResult is the terminal record of one case. Only the five
// submission fields are serialized; the rest is run bookkeeping.
type DiagnosisResult struct {
	UUID           string          `json:"uuid"`
	Component      string          `json:"component"`
	Reason         string          `json:"reason"`
	Time           string          `json:"time"`
	ReasoningTrace []ReasoningStep `json:"reasoning_trace"`

	Status        Status        `json:"-"`
	FailureReason string        `json:"-"`
	Detail        string        `json:"-"`
	Iterations    int           `json:"-"`
	Duration      time.Duration `json:"-"`
}

// Succeeded reports whether the case ended with a validated final answer.
func (r *DiagnosisResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// AnswerTimeLayout is the time format of submitted answers.
const AnswerTimeLayout = "2006-01-02 15:04:05"

// NewFallback builds the best-effort result for a case that ended without
// a validated answer. Callers may refine component, reason and trace.
func NewFallback(c Case, status Status, failure, detail string) *DiagnosisResult {
	res := &DiagnosisResult{
		UUID:      c.UUID,
		Component: "unknown",
		Reason:    "analysis_failed",
		ReasoningTrace: []ReasoningStep{{
			Step:        1,
			Action:      "DiagnosisAttempt",
			Observation: "Automatic diagnosis failed (" + failure + "), requires manual investigation",
		}},
		Status:        status,
		FailureReason: failure,
		Detail:        detail,
	}
	if c.HasWindow() {
		res.Time = c.Start.UTC().Format(AnswerTimeLayout)
	}
	return res
}

// ── Batch ────────────────────────────────────────────────────

// BatchSummary aggregates outcomes of a batch run.
type BatchSummary struct {
	RunID          string         `json:"run_id"`
	Total          int            `json:"total"`
	Completed      int            `json:"completed"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	InFlight       int            `json:"in_flight"`
	FailureReasons map[string]int `json:"failure_reasons"`
	StartedAt      time.Time      `json:"started_at"`
	Elapsed        time.Duration  `json:"elapsed"`
	SuccessRate    float64        `json:"success_rate"`
	PerMinute      float64        `json:"cases_per_minute"`
	ETA            time.Duration  `json:"eta"`
}

// ReasonCount is one bucket of the failure histogram.
type ReasonCount struct {
	Reason string
	Count  int
}

// SortedReasons returns the failure histogram ordered by count, then name.
func (s BatchSummary) SortedReasons() []ReasonCount {
	out := make([]ReasonCount, 0, len(s.FailureReasons))
	for r, n := range s.FailureReasons {
		out = append(out, ReasonCount{Reason: r, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.Compare(out[i].Reason, out[j].Reason) < 0
	})
	return out
}
