// Package validator checks and normalizes tool arguments before execution
// and validates the structure of final answers.
package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// ValidationError rejects one argument of a tool call. The tool handler is
// never invoked when validation fails.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid call to %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid argument %q for %s: %s", e.Param, e.Tool, e.Reason)
}

// Limits are the resource bounds enforced on tool arguments.
type Limits struct {
	DataRoot       string
	DefaultRows    int
	MaxRows        int
	MaxColumns     int
	TrimmedColumns int
}

// importantColumns survive column trimming first, in this order.
var importantColumns = []string{"@timestamp", "message", "level", "k8_pod", "k8_namespace"}

// Validator type-checks and normalizes tool arguments against a schema.
type Validator struct {
	limits Limits
	root   string
	log    zerolog.Logger
}

// New creates a Validator. The data root is resolved to an absolute path.
func New(limits Limits, log zerolog.Logger) (*Validator, error) {
	root, err := filepath.Abs(limits.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("validator: resolve data root: %w", err)
	}
	return &Validator{limits: limits, root: filepath.Clean(root), log: log}, nil
}

// Validate returns a normalized copy of the call's arguments, or a
// *ValidationError describing the first rejected argument.
func (v *Validator) Validate(call models.ToolCall, schema models.ToolSchema) (map[string]any, error) {
	out := make(map[string]any, len(schema.Params))

	// Deterministic order so the first reported problem is stable.
	names := make([]string, 0, len(call.Arguments))
	for name := range call.Arguments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := schema.Param(name); !ok {
			return nil, &ValidationError{Tool: call.Name, Param: name, Reason: "unknown parameter; expected one of " + paramNames(schema)}
		}
	}

	for _, spec := range schema.Params {
		raw, present := call.Arguments[spec.Name]
		if !present || isBlank(raw) {
			switch {
			case spec.Kind == models.KindRows:
				out[spec.Name] = v.limits.DefaultRows
			case spec.Required:
				return nil, &ValidationError{Tool: call.Name, Param: spec.Name, Reason: "required parameter is missing"}
			}
			continue
		}

		val, err := v.coerce(spec, raw)
		if err != nil {
			return nil, &ValidationError{Tool: call.Name, Param: spec.Name, Reason: err.Error()}
		}
		out[spec.Name] = val
	}
	return out, nil
}

func (v *Validator) coerce(spec models.ParamSpec, raw any) (any, error) {
	switch spec.Kind {
	case models.KindString, "":
		return toString(raw)
	case models.KindInteger:
		return toInt(raw)
	case models.KindNumber:
		return toFloat(raw)
	case models.KindBoolean:
		return toBool(raw)
	case models.KindObject:
		return toObject(raw)
	case models.KindArray:
		return toArray(raw)
	case models.KindTimestamp:
		s, err := timestampInput(raw)
		if err != nil {
			return nil, err
		}
		return NormalizeTimestamp(s)
	case models.KindPath:
		s, err := toString(raw)
		if err != nil {
			return nil, err
		}
		return v.ScopePath(s)
	case models.KindRows:
		return v.rows(raw)
	case models.KindColumns:
		return v.columns(raw)
	case models.KindFilters:
		return v.filters(raw)
	default:
		return nil, fmt.Errorf("unsupported parameter kind %q", spec.Kind)
	}
}

// ── Resource scope ───────────────────────────────────────────

// ScopePath resolves p inside the data root. Relative paths are tried
// against the working directory first (hints list root-prefixed paths) and
// then against the root itself. Anything resolving outside the root,
// including through symlinks, is rejected.
func (v *Validator) ScopePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("empty path")
	}

	var candidates []string
	if filepath.IsAbs(p) {
		candidates = []string{filepath.Clean(p)}
	} else {
		if abs, err := filepath.Abs(p); err == nil {
			candidates = append(candidates, abs)
		}
		candidates = append(candidates, filepath.Join(v.root, p))
	}

	for _, c := range candidates {
		if !within(v.root, c) {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(c); err == nil {
			root := v.root
			if r, err := filepath.EvalSymlinks(v.root); err == nil {
				root = r
			}
			if !within(root, resolved) {
				continue
			}
		}
		return c, nil
	}
	return "", fmt.Errorf("path %q is outside the data root %s", p, v.limits.DataRoot)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (v *Validator) rows(raw any) (int, error) {
	n, err := toInt(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("row count must be positive, got %d", n)
	}
	if n > v.limits.MaxRows {
		v.log.Debug().Int("requested", n).Int("max", v.limits.MaxRows).Msg("Clamping row count")
		n = v.limits.MaxRows
	}
	return n, nil
}

func (v *Validator) columns(raw any) ([]string, error) {
	var cols []string
	switch x := raw.(type) {
	case string:
		if arr, err := toArray(x); err == nil {
			raw = arr
		} else {
			for _, c := range strings.Split(x, ",") {
				if c = strings.TrimSpace(c); c != "" {
					cols = append(cols, c)
				}
			}
			return v.trimColumns(cols), nil
		}
	}
	arr, err := toArray(raw)
	if err != nil {
		return nil, err
	}
	for _, item := range arr {
		s, err := toString(item)
		if err != nil {
			return nil, fmt.Errorf("column names must be strings")
		}
		cols = append(cols, s)
	}
	return v.trimColumns(cols), nil
}

// trimColumns keeps important columns first and cuts the list down to the
// trimmed width when it exceeds the column ceiling.
func (v *Validator) trimColumns(cols []string) []string {
	if len(cols) <= v.limits.MaxColumns {
		return cols
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}
	out := make([]string, 0, v.limits.TrimmedColumns)
	taken := make(map[string]bool)
	for _, c := range importantColumns {
		if present[c] && len(out) < v.limits.TrimmedColumns {
			out = append(out, c)
			taken[c] = true
		}
	}
	for _, c := range cols {
		if len(out) == v.limits.TrimmedColumns {
			break
		}
		if !taken[c] {
			out = append(out, c)
			taken[c] = true
		}
	}
	v.log.Debug().Int("requested", len(cols)).Int("kept", len(out)).Msg("Trimming column list")
	return out
}

// ── Scalar coercion ──────────────────────────────────────────

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	case json.Number:
		return x.String(), nil
	default:
		return "", fmt.Errorf("expected a string, got %T", v)
	}
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected an integer, got %v", x)
		}
		return int(x), nil
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", x)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", x)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("expected a boolean, got %q", x)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

func toObject(v any) (map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(x), &m); err != nil {
			return nil, fmt.Errorf("expected a JSON object")
		}
		return m, nil
	default:
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
}

func toArray(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case string:
		var arr []any
		if err := json.Unmarshal([]byte(x), &arr); err != nil {
			return nil, fmt.Errorf("expected a JSON array")
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("expected an array, got %T", v)
	}
}

func paramNames(schema models.ToolSchema) string {
	names := make([]string, len(schema.Params))
	for i, p := range schema.Params {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
