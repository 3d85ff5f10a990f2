package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// Answer is a final root-cause verdict proposed by the model.
type Answer struct {
	Component      string                 `json:"component" validate:"required"`
	Reason         string                 `json:"reason" validate:"required"`
	Time           string                 `json:"time" validate:"required"`
	ReasoningTrace []models.ReasoningStep `json:"reasoning_trace"`
}

// AnswerError lists the fields a proposed answer is missing or got wrong.
type AnswerError struct {
	Fields []string
	Cause  string
}

func (e *AnswerError) Error() string {
	if e.Cause != "" {
		return "invalid final answer: " + e.Cause
	}
	return "invalid final answer: missing or empty " + strings.Join(e.Fields, ", ")
}

var answerValidate = playground.New()

// ParseAnswer decodes a final answer from the model's result text. Markdown
// code fences and text around the JSON object are tolerated. A partially
// valid answer is returned together with its *AnswerError so callers can
// keep it as a best-effort candidate.
func ParseAnswer(text string) (*Answer, error) {
	obj := extractObject(text)
	if obj == "" {
		return nil, &AnswerError{Cause: "result is not a JSON object"}
	}

	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &AnswerError{Cause: fmt.Sprintf("result is not valid JSON: %v", err)}
	}

	a := &Answer{
		Component: scalar(raw["component"]),
		Reason:    scalar(raw["reason"]),
		Time:      scalar(raw["time"]),
	}
	trace, err := parseTrace(raw["reasoning_trace"])
	if err != nil {
		return a, &AnswerError{Cause: err.Error()}
	}
	a.ReasoningTrace = trace

	if err := ValidateAnswer(a); err != nil {
		return a, err
	}
	return a, nil
}

// ValidateAnswer checks the required fields of an answer.
func ValidateAnswer(a *Answer) error {
	err := answerValidate.Struct(a)
	if err == nil {
		return nil
	}
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return &AnswerError{Cause: err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return &AnswerError{Fields: fields}
}

func parseTrace(v any) ([]models.ReasoningStep, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errors.New("reasoning_trace must be an array")
	}
	steps := make([]models.ReasoningStep, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reasoning_trace[%d] must be an object with step, action, observation", i)
		}
		step := models.ReasoningStep{
			Step:        i + 1,
			Action:      scalar(m["action"]),
			Observation: scalar(m["observation"]),
		}
		if n, err := strconv.Atoi(scalar(m["step"])); err == nil && n > 0 {
			step.Step = n
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// extractObject returns the outermost {...} span of text.
func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func scalar(v any) string {
	if v == nil {
		return ""
	}
	s, err := toString(v)
	if err != nil {
		b, _ := json.Marshal(v)
		return string(b)
	}
	return s
}
