package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// maxResponseBytes caps what is read from a tool endpoint.
const maxResponseBytes = 8 << 20

// HTTPTool calls a tool served by a JSON-RPC 2.0 tools/call endpoint.
type HTTPTool struct {
	cfg    config.HTTPToolConfig
	client *http.Client
}

// NewHTTPTool creates a tool for cfg. The executor enforces the call
// timeout through the request context.
func NewHTTPTool(cfg config.HTTPToolConfig, client *http.Client) *HTTPTool {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTool{cfg: cfg, client: client}
}

func (t *HTTPTool) Schema() models.ToolSchema {
	return models.ToolSchema{Name: t.cfg.Name, Description: t.cfg.Description, Params: t.cfg.Params}
}

// Call posts a tools/call request and returns the text of the result.
func (t *HTTPTool) Call(ctx context.Context, args map[string]any) (string, error) {
	params, err := json.Marshal(models.ToolCallParams{Name: t.cfg.Name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	body, err := json.Marshal(models.RPCRequest{
		Version: "2.0",
		Method:  "tools/call",
		Params:  params,
		ID:      uuid.New().String(),
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	t.applyAuth(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("tool endpoint: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rpcResp models.RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err == nil {
		if rpcResp.Error != nil {
			return "", fmt.Errorf("tool endpoint: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		}
		if len(rpcResp.Result) > 0 {
			var result models.ToolCallResult
			if err := json.Unmarshal(rpcResp.Result, &result); err == nil && len(result.Content) > 0 {
				if result.IsError {
					return "", errors.New(result.Text())
				}
				return result.Text(), nil
			}
			return string(rpcResp.Result), nil
		}
	}

	// Not a JSON-RPC envelope; hand back the raw body.
	return string(respBody), nil
}

// applyAuth sets the configured credential. A token without a header name
// is sent as a bearer token.
func (t *HTTPTool) applyAuth(req *http.Request) {
	if t.cfg.AuthToken == "" {
		return
	}
	if t.cfg.AuthHeader == "" || strings.EqualFold(t.cfg.AuthHeader, "Authorization") {
		req.Header.Set("Authorization", "Bearer "+t.cfg.AuthToken)
		return
	}
	req.Header.Set(t.cfg.AuthHeader, t.cfg.AuthToken)
}
