package executor

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/agentoven/rootcause/internal/validator"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

func knownSet(names ...string) func(string) bool {
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	return func(n string) bool { return set[n] }
}

func TestParseResponse(t *testing.T) {
	known := knownSet("query_logs", "attempt_completion")
	tests := []struct {
		name    string
		content string
		want    models.ToolCall
		found   bool
		extra   int
	}{
		{
			name:    "single call",
			content: "Checking logs.\n<query_logs>\n<service>cartservice</service>\n<nrows>200</nrows>\n</query_logs>",
			want:    models.ToolCall{Name: "query_logs", Arguments: map[string]any{"service": "cartservice", "nrows": "200"}},
			found:   true,
		},
		{
			name:    "first call wins",
			content: "<query_logs><service>a</service></query_logs><query_logs><service>b</service></query_logs>",
			want:    models.ToolCall{Name: "query_logs", Arguments: map[string]any{"service": "a"}},
			found:   true,
			extra:   1,
		},
		{
			name:    "reasoning wrapper ignored",
			content: "<thinking>maybe <query_logs> later</thinking><query_logs><service>x</service></query_logs>",
			want:    models.ToolCall{Name: "query_logs", Arguments: map[string]any{"service": "x"}},
			found:   true,
		},
		{
			name:    "json values decoded",
			content: `<query_logs><filters>[["level", "==", "error"]]</filters><service>[oops</service></query_logs>`,
			want: models.ToolCall{Name: "query_logs", Arguments: map[string]any{
				"filters": []any{[]any{"level", "==", "error"}},
				"service": "[oops",
			}},
			found: true,
		},
		{
			name:    "self closing",
			content: "<query_logs/>",
			want:    models.ToolCall{Name: "query_logs", Arguments: map[string]any{}},
			found:   true,
		},
		{
			name:    "unregistered tool surfaced",
			content: "<delete_pod><pod>x</pod></delete_pod>",
			want:    models.ToolCall{Name: "delete_pod", Arguments: map[string]any{"pod": "x"}},
			found:   true,
		},
		{
			name:    "registered beats unregistered",
			content: "<delete_pod><pod>x</pod></delete_pod><query_logs></query_logs>",
			want:    models.ToolCall{Name: "query_logs", Arguments: map[string]any{}},
			found:   true,
		},
		{
			name:    "plain prose",
			content: "The root cause is probably the cart.",
		},
		{
			name:    "unterminated",
			content: "<query_logs><service>x</service>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseResponse(tt.content, known)
			assert.Equal(t, tt.found, got.found)
			assert.Equal(t, tt.extra, got.extra)
			if tt.found {
				assert.Equal(t, tt.want, got.call)
			}
		})
	}
}

func TestParseKeepsNumbersExact(t *testing.T) {
	got := parseResponse(`<attempt_completion><result>{"step": 12}</result></attempt_completion>`, knownSet("attempt_completion"))
	assert.Equal(t, map[string]any{"step": json.Number("12")}, got.call.Arguments["result"])
	assert.Equal(t, `{"step":12}`, resultText(got.call.Arguments["result"]))
}

func TestParsedEpochFilterValidates(t *testing.T) {
	got := parseResponse(`<query_logs><filters>[["@timestamp", ">=", 1749139800]]</filters></query_logs>`, knownSet("query_logs"))
	require.True(t, got.found)

	v, err := validator.New(validator.Limits{DataRoot: t.TempDir(), DefaultRows: 500, MaxRows: 1000}, zerolog.Nop())
	require.NoError(t, err)
	args, err := v.Validate(got.call, models.ToolSchema{
		Name:   "query_logs",
		Params: []models.ParamSpec{{Name: "filters", Kind: models.KindFilters}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"@timestamp", ">=", "2025-06-05T16:10:00Z"}}, args["filters"])
}

func TestRenderAction(t *testing.T) {
	assert.Equal(t, "list_files()", renderAction("list_files", nil))
	assert.Equal(t,
		`query_logs(filters=[["level","==","error"]], nrows=200, service=cart)`,
		renderAction("query_logs", map[string]any{
			"service": "cart",
			"nrows":   200,
			"filters": []any{[]any{"level", "==", "error"}},
		}))
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		obs  models.Observation
		want string
	}{
		{"evidence line preferred", models.Observation{Success: true, Payload: "shape (10, 3)\n\n  pod-1   OOMKilled  restarts 4"}, "pod-1 OOMKilled restarts 4"},
		{"first line without evidence", models.Observation{Success: true, Payload: "columns: a, b\nrow one"}, "columns: a, b"},
		{"failure uses first line", models.Observation{Error: "tool x failed: boom\nTry a smaller window."}, "ERROR: tool x failed: boom"},
		{"empty", models.Observation{Success: true}, "(empty result)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(tt.obs, 100))
		})
	}

	long := models.Observation{Success: true, Payload: "error " + strings.Repeat("x", 200)}
	got := summarize(long, 40)
	assert.Len(t, []rune(got), 40)
	assert.True(t, strings.HasSuffix(got, "..."))
}
