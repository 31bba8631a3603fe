// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stdiotransport implements mcp.Transport over a child process
// speaking the framed MCP stdio protocol, using mark3labs/mcp-go — the
// same client library the teacher uses for its own stdio MCP connections
// in pkg/tool/mcptoolset.go.
package stdiotransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	agentmcp "github.com/kadirpekel/agentcore/pkg/mcp"
)

// Transport wraps a mark3labs/mcp-go stdio client.
type Transport struct {
	mu     sync.Mutex
	client *mcpgo.Client
	ready  bool
}

// New spawns command with args/env and speaks MCP over its stdio.
func New(ctx context.Context, command string, args []string, env map[string]string) (*Transport, error) {
	client, err := mcpgo.NewStdioMCPClient(command, envSlice(env), args...)
	if err != nil {
		return nil, fmt.Errorf("create stdio mcp client: %w", err)
	}

	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start stdio mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentcore", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return nil, fmt.Errorf("initialize stdio mcp client: %w", err)
	}

	return &Transport{client: client, ready: true}, nil
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// ListTools implements mcp.Transport.
func (t *Transport) ListTools(ctx context.Context) ([]agentmcp.RawTool, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("stdio mcp client is closed")
	}

	resp, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]agentmcp.RawTool, 0, len(resp.Tools))
	for _, raw := range resp.Tools {
		tools = append(tools, agentmcp.RawTool{
			Name:        raw.Name,
			Description: raw.Description,
			InputSchema: convertSchema(raw.InputSchema),
		})
	}
	return tools, nil
}

// CallTool implements mcp.Transport.
func (t *Transport) CallTool(ctx context.Context, name string, args map[string]any) (agentmcp.CallResult, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return agentmcp.CallResult{}, fmt.Errorf("stdio mcp client is closed")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := client.CallTool(ctx, req)
	if err != nil {
		return agentmcp.CallResult{}, fmt.Errorf("call tool %q: %w", name, err)
	}

	result := agentmcp.CallResult{IsError: resp.IsError}
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	switch len(texts) {
	case 0:
	case 1:
		result.Text = texts[0]
	default:
		result.Results = texts
		result.Text = texts[0]
	}
	return result, nil
}

// Close implements mcp.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.ready = false
	return err
}

// convertSchema marshals then unmarshals the typed MCP schema into a
// plain map so callers can feed it straight into pkg/mcp/validate.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

var _ agentmcp.Transport = (*Transport)(nil)
