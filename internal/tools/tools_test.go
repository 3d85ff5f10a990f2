package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/discovery"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
	"github.com/agentoven/agentoven/rootcause/internal/tools"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

func stubTool(name string, fn func(ctx context.Context, args map[string]any) (string, error)) tools.Tool {
	return tools.Func{Def: models.ToolSchema{Name: name, Description: "stub"}, Fn: fn}
}

func newTestExecutor(t *testing.T, timeout time.Duration, ts ...tools.Tool) *tools.Executor {
	t.Helper()
	reg, err := tools.NewRegistry(ts...)
	require.NoError(t, err)
	return tools.NewExecutor(reg, timeout, telemetry.NewMetrics(), zerolog.Nop())
}

// ── Registry ─────────────────────────────────────────────────

func TestRegistryRejectsDuplicatesAndReserved(t *testing.T) {
	ok := func(context.Context, map[string]any) (string, error) { return "", nil }

	_, err := tools.NewRegistry(stubTool("a", ok), stubTool("a", ok))
	assert.ErrorContains(t, err, "duplicate")

	_, err = tools.NewRegistry(stubTool(tools.CompletionTool, ok))
	assert.ErrorContains(t, err, "reserved")

	reg, err := tools.NewRegistry(stubTool("b", ok), stubTool("a", ok))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, reg.Names())

	schemas := reg.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, tools.CompletionTool, schemas[2].Name)
	assert.True(t, reg.Known(tools.CompletionTool))
	assert.False(t, reg.Known("c"))
}

// ── Executor ─────────────────────────────────────────────────

func TestExecuteSuccess(t *testing.T) {
	ex := newTestExecutor(t, time.Second, stubTool("echo", func(_ context.Context, args map[string]any) (string, error) {
		return "hello " + args["who"].(string), nil
	}))

	obs := ex.Execute(context.Background(), models.ToolCall{Name: "echo", Arguments: map[string]any{"who": "world"}})
	assert.True(t, obs.Success)
	assert.Equal(t, "hello world", obs.Payload)
	assert.Equal(t, "hello world", obs.Text())
}

func TestExecuteUnknownTool(t *testing.T) {
	ex := newTestExecutor(t, time.Second, stubTool("echo", nil))

	obs := ex.Execute(context.Background(), models.ToolCall{Name: "get_weather"})
	assert.False(t, obs.Success)
	assert.Contains(t, obs.Error, `unknown tool "get_weather"`)
	assert.Contains(t, obs.Error, "echo")
}

func TestExecuteTimeout(t *testing.T) {
	ex := newTestExecutor(t, 50*time.Millisecond, stubTool("slow", func(ctx context.Context, _ map[string]any) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}))

	start := time.Now()
	obs := ex.Execute(context.Background(), models.ToolCall{Name: "slow"})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, obs.Success)
	assert.Contains(t, obs.Error, "timed out")
}

func TestExecuteToolErrorAndPanic(t *testing.T) {
	ex := newTestExecutor(t, time.Second,
		stubTool("fails", func(context.Context, map[string]any) (string, error) {
			return "", errors.New("unsupported filter operator like")
		}),
		stubTool("panics", func(context.Context, map[string]any) (string, error) {
			panic("boom")
		}),
	)

	obs := ex.Execute(context.Background(), models.ToolCall{Name: "fails"})
	assert.False(t, obs.Success)
	assert.Contains(t, obs.Error, "tool fails failed")
	assert.Contains(t, obs.Error, "Suggestion:")

	obs = ex.Execute(context.Background(), models.ToolCall{Name: "panics"})
	assert.False(t, obs.Success)
	assert.Contains(t, obs.Error, "panicked")
}

// ── Built-ins ────────────────────────────────────────────────

func newTestDataRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"2025-06-06/log-parquet/log_filebeat-server_2025-06-06_00-00-00.parquet": "PAR1",
		"2025-06-06/apm/checkoutservice_2025-06-06.parquet":                      "PAR1",
		"2025-06-06/notes.log":                                                   "line one\nline two\n",
	}
	for rel, body := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func builtin(t *testing.T, root, name string) tools.Tool {
	t.Helper()
	for _, tool := range tools.Builtins(discovery.New(root, zerolog.Nop())) {
		if tool.Schema().Name == name {
			return tool
		}
	}
	t.Fatalf("builtin %q not found", name)
	return nil
}

func TestListPartitionFiles(t *testing.T) {
	root := newTestDataRoot(t)
	tool := builtin(t, root, "list_partition_files")

	out, err := tool.Call(context.Background(), map[string]any{"date": "2025-06-06"})
	require.NoError(t, err)
	assert.Contains(t, out, "Partition 2025-06-06: 2 files")
	assert.Contains(t, out, "log_filebeat-server")

	out, err = tool.Call(context.Background(), map[string]any{"date": "2025-06-06", "group": "log"})
	require.NoError(t, err)
	assert.NotContains(t, out, "metric-apm")

	_, err = tool.Call(context.Background(), map[string]any{"date": "2025-06-09"})
	assert.ErrorContains(t, err, "available dates: 2025-06-06")

	_, err = tool.Call(context.Background(), map[string]any{"date": "2025-06-06", "group": "weird"})
	assert.Error(t, err)
}

func TestInspectFile(t *testing.T) {
	root := newTestDataRoot(t)
	tool := builtin(t, root, "inspect_file")

	out, err := tool.Call(context.Background(), map[string]any{"file_path": filepath.Join(root, "2025-06-06/notes.log")})
	require.NoError(t, err)
	assert.Contains(t, out, "size: 18 bytes")
	assert.Contains(t, out, "line two")

	out, err = tool.Call(context.Background(), map[string]any{"file_path": filepath.Join(root, "2025-06-06/apm/checkoutservice_2025-06-06.parquet")})
	require.NoError(t, err)
	assert.NotContains(t, out, "preview")

	_, err = tool.Call(context.Background(), map[string]any{"file_path": filepath.Join(root, "missing.parquet")})
	assert.Error(t, err)
}

func TestInspectFileClipsLongLinesByRune(t *testing.T) {
	root := newTestDataRoot(t)
	path := filepath.Join(root, "2025-06-06/wide.log")
	line := "x" + strings.Repeat("超时", 300)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o644))

	out, err := builtin(t, root, "inspect_file").Call(context.Background(), map[string]any{"file_path": path})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(out), "preview must stay valid UTF-8")
	assert.Contains(t, out, "  "+string([]rune(line)[:400])+"...\n")
}

// ── HTTP tool ────────────────────────────────────────────────

func TestHTTPTool(t *testing.T) {
	var gotAuth string
	var gotReq models.RPCRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"cpu peak 97%"}]}}`))
	}))
	t.Cleanup(srv.Close)

	tool := tools.NewHTTPTool(config.HTTPToolConfig{
		Name:      "get_metrics",
		Endpoint:  srv.URL,
		AuthToken: "secret",
		Params:    []models.ParamSpec{{Name: "service", Kind: models.KindString}},
	}, nil)

	out, err := tool.Call(context.Background(), map[string]any{"service": "checkoutservice"})
	require.NoError(t, err)
	assert.Equal(t, "cpu peak 97%", out)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "tools/call", gotReq.Method)
	assert.Equal(t, "get_metrics", tool.Schema().Name)
}

func TestHTTPToolErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"status", http.StatusBadGateway, "upstream down", "status 502"},
		{"rpc error", http.StatusOK, `{"jsonrpc":"2.0","id":"1","error":{"code":-32602,"message":"bad params"}}`, "bad params"},
		{"tool error", http.StatusOK, `{"jsonrpc":"2.0","id":"1","result":{"isError":true,"content":[{"type":"text","text":"column missing"}]}}`, "column missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			tool := tools.NewHTTPTool(config.HTTPToolConfig{Name: "x", Endpoint: srv.URL}, nil)
			_, err := tool.Call(context.Background(), nil)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error = %v", err)
		})
	}
}

// ── MCP source ───────────────────────────────────────────────

type metricsIn struct {
	Service   string `json:"service" jsonschema:"service name"`
	StartTime string `json:"start_time" jsonschema:"window start"`
	Nrows     int    `json:"nrows,omitempty" jsonschema:"row limit"`
}

type metricsOut struct {
	Service string  `json:"service"`
	Peak    float64 `json:"peak"`
}

func TestMCPSource(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "obs-tools", Version: "v0.0.1"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_service_metrics",
		Description: "Service latency and error metrics",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, in metricsIn) (*sdkmcp.CallToolResult, metricsOut, error) {
		return nil, metricsOut{Service: in.Service, Peak: 97.5}, nil
	})

	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, t1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	src, err := tools.ConnectMCP(ctx, t2, "test", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	remote := src.Tools()
	require.Len(t, remote, 1)
	schema := remote[0].Schema()
	assert.Equal(t, "get_service_metrics", schema.Name)

	kinds := map[string]models.ParamKind{}
	for _, p := range schema.Params {
		kinds[p.Name] = p.Kind
	}
	assert.Equal(t, models.KindString, kinds["service"])
	assert.Equal(t, models.KindTimestamp, kinds["start_time"])
	assert.Equal(t, models.KindRows, kinds["nrows"])
	svc, _ := schema.Param("service")
	assert.True(t, svc.Required)

	out, err := remote[0].Call(ctx, map[string]any{"service": "checkoutservice", "start_time": "2025-06-05T16:10:00Z"})
	require.NoError(t, err)
	assert.Contains(t, out, "97.5")
	assert.Contains(t, out, "checkoutservice")
}

func TestMCPTransport(t *testing.T) {
	_, err := tools.MCPTransport("", nil)
	assert.Error(t, err)

	tr, err := tools.MCPTransport("http://localhost:9/mcp", nil)
	require.NoError(t, err)
	assert.IsType(t, &sdkmcp.StreamableClientTransport{}, tr)

	tr, err = tools.MCPTransport("", []string{"obs-tools", "--stdio"})
	require.NoError(t, err)
	assert.IsType(t, &sdkmcp.CommandTransport{}, tr)
}
