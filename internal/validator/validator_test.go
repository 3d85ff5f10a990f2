package validator_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/validator"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

var queryTool = models.ToolSchema{
	Name: "get_data_from_parquet",
	Params: []models.ParamSpec{
		{Name: "file_path", Kind: models.KindPath, Required: true},
		{Name: "start", Kind: models.KindTimestamp},
		{Name: "nrows", Kind: models.KindRows},
		{Name: "columns", Kind: models.KindColumns},
		{Name: "filters", Kind: models.KindFilters},
		{Name: "verbose", Kind: models.KindBoolean},
		{Name: "threshold", Kind: models.KindNumber},
	},
}

func newTestValidator(t *testing.T) (*validator.Validator, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "2025-06-06", "log-parquet"), 0o755); err != nil {
		t.Fatal(err)
	}
	v, err := validator.New(validator.Limits{
		DataRoot:       root,
		DefaultRows:    500,
		MaxRows:        1000,
		MaxColumns:     15,
		TrimmedColumns: 10,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v, root
}

func call(args map[string]any) models.ToolCall {
	return models.ToolCall{Name: queryTool.Name, Arguments: args}
}

func TestValidateNormalizes(t *testing.T) {
	v, root := newTestValidator(t)

	got, err := v.Validate(call(map[string]any{
		"file_path": "2025-06-06/log-parquet/log.parquet",
		"start":     "2025-06-05 16:10:00",
		"nrows":     "5000",
		"verbose":   "true",
		"threshold": "0.75",
		"filters":   `[["@timestamp", ">=", "2025-06-05T16:10:00.1234567891Z"], ["k8_pod", "=", "checkoutservice-0"]]`,
	}), queryTool)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	want := map[string]any{
		"file_path": filepath.Join(root, "2025-06-06/log-parquet/log.parquet"),
		"start":     "2025-06-05T16:10:00Z",
		"nrows":     1000,
		"verbose":   true,
		"threshold": 0.75,
		"filters": []any{
			[]any{"@timestamp", ">=", "2025-06-05T16:10:00.123456Z"},
			[]any{"k8_pod", "==", "checkoutservice-0"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateEpochTimestampFilter(t *testing.T) {
	v, _ := newTestValidator(t)

	got, err := v.Validate(call(map[string]any{
		"file_path": "x",
		"filters": []any{
			[]any{"@timestamp", ">=", json.Number("1749139800")},
			[]any{"@timestamp", "in", []any{json.Number("1749139800000"), "2025-06-05 16:20:00"}},
		},
	}), queryTool)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	want := []any{
		[]any{"@timestamp", ">=", "2025-06-05T16:10:00Z"},
		[]any{"@timestamp", "in", []any{"2025-06-05T16:10:00Z", "2025-06-05T16:20:00Z"}},
	}
	if diff := cmp.Diff(want, got["filters"]); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}

	_, err = v.Validate(call(map[string]any{
		"file_path": "x",
		"filters":   []any{[]any{"@timestamp", ">=", json.Number("1749139800.5")}},
	}), queryTool)
	if err == nil {
		t.Fatal("Validate() error = nil, want fractional epoch rejected")
	}
}

func TestValidateDefaultsRows(t *testing.T) {
	v, _ := newTestValidator(t)
	got, err := v.Validate(call(map[string]any{"file_path": "2025-06-06"}), queryTool)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got["nrows"] != 500 {
		t.Errorf("nrows = %v, want default 500", got["nrows"])
	}
}

func TestValidateRejects(t *testing.T) {
	v, _ := newTestValidator(t)
	tests := []struct {
		name  string
		args  map[string]any
		param string
	}{
		{"missing required", map[string]any{"nrows": 5}, "file_path"},
		{"path escapes root", map[string]any{"file_path": "../../etc/passwd"}, "file_path"},
		{"absolute path outside root", map[string]any{"file_path": "/etc/passwd"}, "file_path"},
		{"malformed timestamp", map[string]any{"file_path": "x", "start": "yesterday noon"}, "start"},
		{"negative rows", map[string]any{"file_path": "x", "nrows": -3}, "nrows"},
		{"unsupported operator", map[string]any{"file_path": "x", "filters": []any{[]any{"message", "like", "%err%"}}}, "filters"},
		{"bad filter shape", map[string]any{"file_path": "x", "filters": []any{[]any{"message", "=="}}}, "filters"},
		{"in without list", map[string]any{"file_path": "x", "filters": []any{[]any{"level", "in", "error"}}}, "filters"},
		{"unknown parameter", map[string]any{"file_path": "x", "pd_read_kwargs": "{}"}, "pd_read_kwargs"},
		{"wrong boolean", map[string]any{"file_path": "x", "verbose": "maybe"}, "verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(call(tt.args), queryTool)
			var verr *validator.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Param != tt.param {
				t.Errorf("ValidationError.Param = %q, want %q (%v)", verr.Param, tt.param, verr)
			}
		})
	}
}

func TestValidateSymlinkEscape(t *testing.T) {
	v, root := newTestValidator(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := v.Validate(call(map[string]any{"file_path": "escape"}), queryTool); err == nil {
		t.Error("Validate() accepted a symlink leaving the data root")
	}
}

func TestColumnsTrimmedWithImportantFirst(t *testing.T) {
	v, _ := newTestValidator(t)
	cols := []any{}
	for i := 0; i < 14; i++ {
		cols = append(cols, "c"+string(rune('a'+i)))
	}
	cols = append(cols, "k8_pod", "message")

	got, err := v.Validate(call(map[string]any{"file_path": "x", "columns": cols}), queryTool)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := []string{"message", "k8_pod", "ca", "cb", "cc", "cd", "ce", "cf", "cg", "ch"}
	if diff := cmp.Diff(want, got["columns"]); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestColumnsFromCommaList(t *testing.T) {
	v, _ := newTestValidator(t)
	got, err := v.Validate(call(map[string]any{"file_path": "x", "columns": "@timestamp, message"}), queryTool)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if diff := cmp.Diff([]string{"@timestamp", "message"}, got["columns"]); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2025-06-05T16:10:00Z", "2025-06-05T16:10:00Z"},
		{"2025-06-06T00:10:00+08:00", "2025-06-05T16:10:00Z"},
		{"2025-06-05 16:10:00", "2025-06-05T16:10:00Z"},
		{"2025-06-05T16:10:00.5", "2025-06-05T16:10:00.5Z"},
		{"1749139800", "2025-06-05T16:10:00Z"},
		{"1749139800000", "2025-06-05T16:10:00Z"},
	}
	for _, tt := range tests {
		got, err := validator.NormalizeTimestamp(tt.in)
		if err != nil {
			t.Errorf("NormalizeTimestamp(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeTimestamp(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := validator.NormalizeTimestamp("06/05/2025"); err == nil {
		t.Error("NormalizeTimestamp(06/05/2025) error = nil")
	}
}

func TestParseAnswer(t *testing.T) {
	text := "```json\n{\"uuid\":\"33c11d00-2\",\"component\":\"checkoutservice\",\"reason\":\"disk IO overload\",\"time\":\"2025-06-05 12:18:00\",\"reasoning_trace\":[{\"step\":\"1\",\"action\":\"LoadMetrics(checkoutservice)\",\"observation\":\"disk latency spike\"}]}\n```"
	a, err := validator.ParseAnswer(text)
	if err != nil {
		t.Fatalf("ParseAnswer() error = %v", err)
	}
	if a.Component != "checkoutservice" || a.Reason != "disk IO overload" {
		t.Errorf("ParseAnswer() = %+v", a)
	}
	if len(a.ReasoningTrace) != 1 || a.ReasoningTrace[0].Step != 1 {
		t.Errorf("ReasoningTrace = %+v", a.ReasoningTrace)
	}
}

func TestParseAnswerMissingFields(t *testing.T) {
	a, err := validator.ParseAnswer(`{"component": "cartservice", "reason": ""}`)
	var aerr *validator.AnswerError
	if !errors.As(err, &aerr) {
		t.Fatalf("ParseAnswer() error = %v, want *AnswerError", err)
	}
	if a == nil || a.Component != "cartservice" {
		t.Errorf("partial answer = %+v, want component kept", a)
	}
	msg := aerr.Error()
	if !strings.Contains(msg, "reason") || !strings.Contains(msg, "time") {
		t.Errorf("AnswerError = %q, want reason and time listed", msg)
	}

	if _, err := validator.ParseAnswer("no json here"); err == nil {
		t.Error("ParseAnswer(no json) error = nil")
	}
}
