package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// MCPSource exposes the tools of a remote MCP server.
type MCPSource struct {
	session *sdkmcp.ClientSession
	tools   []Tool
	log     zerolog.Logger
}

// MCPTransport builds a client transport: streamable HTTP when endpoint is
// set, otherwise a subprocess speaking MCP over stdio.
func MCPTransport(endpoint string, command []string) (sdkmcp.Transport, error) {
	switch {
	case endpoint != "":
		return &sdkmcp.StreamableClientTransport{Endpoint: endpoint}, nil
	case len(command) > 0:
		return &sdkmcp.CommandTransport{Command: exec.Command(command[0], command[1:]...)}, nil
	default:
		return nil, errors.New("mcp: neither endpoint nor command configured")
	}
}

// ConnectMCP opens a session over transport and lists the server's tools.
func ConnectMCP(ctx context.Context, transport sdkmcp.Transport, version string, log zerolog.Logger) (*MCPSource, error) {
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "rootcause", Version: version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect: %w", err)
	}

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("mcp: list tools: %w", err)
	}

	src := &MCPSource{session: session, log: log}
	for _, t := range listed.Tools {
		schema, err := schemaFromMCP(t)
		if err != nil {
			log.Warn().Err(err).Str("tool", t.Name).Msg("Skipping MCP tool with unreadable schema")
			continue
		}
		src.tools = append(src.tools, &mcpTool{session: session, schema: schema})
	}
	log.Info().Int("tools", len(src.tools)).Msg("MCP tool source connected")
	return src, nil
}

// Tools returns the remote tools.
func (s *MCPSource) Tools() []Tool {
	return s.tools
}

// Close ends the session.
func (s *MCPSource) Close() error {
	return s.session.Close()
}

type mcpTool struct {
	session *sdkmcp.ClientSession
	schema  models.ToolSchema
}

func (t *mcpTool) Schema() models.ToolSchema { return t.schema }

func (t *mcpTool) Call(ctx context.Context, args map[string]any) (string, error) {
	res, err := t.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      t.schema.Name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		if text == "" {
			text = "remote tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

// jsonSchema is the subset of an MCP input schema used to derive params.
type jsonSchema struct {
	Properties map[string]struct {
		Type        any    `json:"type"`
		Format      string `json:"format"`
		Description string `json:"description"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// schemaFromMCP derives a ToolSchema from the tool's JSON input schema.
// Parameter names that denote times, paths, row counts, column lists and
// filters get the matching validated kind.
func schemaFromMCP(t *sdkmcp.Tool) (models.ToolSchema, error) {
	schema := models.ToolSchema{Name: t.Name, Description: t.Description}
	if t.InputSchema == nil {
		return schema, nil
	}
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return schema, err
	}
	var js jsonSchema
	if err := json.Unmarshal(raw, &js); err != nil {
		return schema, err
	}

	required := make(map[string]bool, len(js.Required))
	for _, r := range js.Required {
		required[r] = true
	}
	names := make([]string, 0, len(js.Properties))
	for name := range js.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := js.Properties[name]
		schema.Params = append(schema.Params, models.ParamSpec{
			Name:        name,
			Kind:        paramKind(name, typeName(p.Type), p.Format),
			Description: p.Description,
			Required:    required[name],
		})
	}
	return schema, nil
}

func typeName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		// ["string", "null"] style unions
		for _, x := range t {
			if s, ok := x.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

func paramKind(name, typ, format string) models.ParamKind {
	n := strings.ToLower(name)
	switch {
	case n == "filters":
		return models.KindFilters
	case n == "columns":
		return models.KindColumns
	case n == "nrows" || n == "rows":
		return models.KindRows
	case n == "file_path" || n == "path" || strings.HasSuffix(n, "_path"):
		return models.KindPath
	case format == "date-time" || strings.HasSuffix(n, "_time") || n == "timestamp":
		return models.KindTimestamp
	}
	switch typ {
	case "integer":
		return models.KindInteger
	case "number":
		return models.KindNumber
	case "boolean":
		return models.KindBoolean
	case "object":
		return models.KindObject
	case "array":
		return models.KindArray
	default:
		return models.KindString
	}
}
