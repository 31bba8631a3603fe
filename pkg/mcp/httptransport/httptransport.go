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

// Package httptransport implements mcp.Transport over plain JSON-RPC 2.0
// HTTP (and streamable-HTTP/SSE) requests, grounded directly on the
// teacher's pkg/tool/mcptoolset connectHTTP/readSSEResponse logic.
package httptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/agentcore/pkg/httpclient"
	"github.com/kadirpekel/agentcore/pkg/mcp"
)

// DefaultSSETimeout bounds how long we wait for a complete SSE message.
const DefaultSSETimeout = 5 * time.Minute

// HeaderInjector supplies per-call auth headers. Implementations must
// resolve auth fresh on every invocation (e.g. by calling
// mcpauth.Manager.Injector internally) rather than capturing a token at
// construction time, since pooled transports outlive any single token's
// lifetime. Scoped to a single request — it must never mutate
// shared/global state (spec §4.5, §5).
type HeaderInjector func(req *http.Request) error

// Transport speaks JSON-RPC over HTTP to one MCP endpoint.
type Transport struct {
	url        string
	inject     HeaderInjector
	httpClient *httpclient.Client
	sseTimeout time.Duration

	sessionMu sync.RWMutex
	sessionID string

	initOnce sync.Once
	initErr  error
}

// Option configures a Transport.
type Option func(*Transport)

// WithMaxRetries sets the retry budget for the underlying HTTP client.
func WithMaxRetries(n int) Option { return func(t *Transport) { t.httpClient = httpclient.New(httpclient.WithMaxRetries(n)) } }

// WithSSETimeout overrides DefaultSSETimeout.
func WithSSETimeout(d time.Duration) Option { return func(t *Transport) { t.sseTimeout = d } }

// New builds a Transport for url, injecting auth headers via inject on
// every outbound request (inject may be nil for unauthenticated
// endpoints).
func New(url string, inject HeaderInjector, opts ...Option) *Transport {
	t := &Transport{
		url:        url,
		inject:     inject,
		httpClient: httpclient.New(httpclient.WithMaxRetries(3), httpclient.WithBaseDelay(2*time.Second)),
		sseTimeout: DefaultSSETimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *Transport) ensureInitialized(ctx context.Context) error {
	t.initOnce.Do(func() {
		resp, err := t.call(ctx, "initialize", map[string]any{
			"protocolVersion": "2024-11-05",
			"clientInfo":      map[string]any{"name": "agentcore", "version": "1.0.0"},
			"capabilities":    map[string]any{},
		})
		if err != nil {
			t.initErr = fmt.Errorf("mcp initialize: %w", err)
			return
		}
		if resp.Error != nil {
			t.initErr = fmt.Errorf("mcp initialize error: %s", resp.Error.Message)
		}
	})
	return t.initErr
}

// ListTools implements mcp.Transport.
func (t *Transport) ListTools(ctx context.Context) ([]mcp.RawTool, error) {
	if err := t.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	resp, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list error: %s", resp.Error.Message)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tools/list result shape")
	}
	rawList, ok := resultMap["tools"].([]any)
	if !ok {
		return nil, fmt.Errorf("tools/list result missing tools array")
	}

	tools := make([]mcp.RawTool, 0, len(rawList))
	for _, raw := range rawList {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		var schema map[string]any
		if s, ok := m["inputSchema"].(map[string]any); ok {
			schema = s
		}
		tools = append(tools, mcp.RawTool{Name: name, Description: desc, InputSchema: schema})
	}
	return tools, nil
}

// CallTool implements mcp.Transport.
func (t *Transport) CallTool(ctx context.Context, name string, args map[string]any) (mcp.CallResult, error) {
	if err := t.ensureInitialized(ctx); err != nil {
		return mcp.CallResult{}, err
	}

	resp, err := t.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return mcp.CallResult{}, fmt.Errorf("tools/call: %w", err)
	}
	if resp.Error != nil {
		return mcp.CallResult{IsError: true, Text: resp.Error.Message}, nil
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return mcp.CallResult{Raw: resp.Result}, nil
	}

	result := mcp.CallResult{Raw: resp.Result}
	if isErr, _ := resultMap["isError"].(bool); isErr {
		result.IsError = true
	}

	if content, ok := resultMap["content"].([]any); ok {
		var texts []string
		for _, c := range content {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if cm["type"] == "text" {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
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
	}

	return result, nil
}

// Close implements mcp.Transport. Plain HTTP connections hold no
// persistent resources beyond the session id.
func (t *Transport) Close() error {
	t.sessionMu.Lock()
	t.sessionID = ""
	t.sessionMu.Unlock()
	return nil
}

func (t *Transport) call(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	t.sessionMu.RLock()
	sid := t.sessionID
	t.sessionMu.RUnlock()
	if sid != "" {
		req.Header.Set("mcp-session-id", sid)
	}

	// Scoped, per-call header injection — never touches process-global
	// state (spec §4.5, §9 design note "Ambient header injection").
	if t.inject != nil {
		if err := t.inject(req); err != nil {
			return nil, fmt.Errorf("inject auth headers: %w", err)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if newSID := resp.Header.Get("mcp-session-id"); newSID != "" {
		t.sessionMu.Lock()
		t.sessionID = newSID
		t.sessionMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(b))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return t.readSSE(resp)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out jsonRPCResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}

// readSSE reads the first complete JSON-RPC message from an SSE stream.
func (t *Transport) readSSE(resp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		resp *jsonRPCResponse
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		var data strings.Builder

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if data.Len() > 0 {
					var out jsonRPCResponse
					if err := json.Unmarshal([]byte(data.String()), &out); err == nil {
						ch <- result{resp: &out}
						return
					}
					data.Reset()
				}
				continue
			}
			if strings.HasPrefix(trimmed, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
			}
		}

		if data.Len() > 0 {
			var out jsonRPCResponse
			if err := json.Unmarshal([]byte(data.String()), &out); err == nil {
				ch <- result{resp: &out}
				return
			}
		}
		ch <- result{err: fmt.Errorf("SSE stream ended without a complete message")}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-time.After(t.sseTimeout):
		slog.Debug("mcp httptransport: SSE read timed out", "url", t.url)
		return nil, fmt.Errorf("timeout reading SSE response after %v", t.sseTimeout)
	}
}

var _ mcp.Transport = (*Transport)(nil)
