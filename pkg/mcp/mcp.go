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

// Package mcp defines the handle and abstract transport contract for MCP
// tool servers (spec §3, §6.2). The wire protocol itself lives in
// pkg/mcp/httptransport and pkg/mcp/stdiotransport; this package only
// knows about handles, qualified tool names, and the Transport interface
// those packages implement.
package mcp

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
)

// TransportKind distinguishes the two supported MCP transports.
type TransportKind string

const (
	TransportHTTP  TransportKind = "http"
	TransportStdio TransportKind = "stdio"
)

// AuthClass buckets MCP connections into "no credentials" vs "carries
// credentials" for pool-key isolation (spec §3 Pool entry, §9 design note
// "Pool key granularity").
type AuthClass string

const (
	AuthClassNone        AuthClass = "none"
	AuthClassCredentialed AuthClass = "with-credentials"
)

// StdioTarget describes a child process speaking the MCP stdio protocol.
type StdioTarget struct {
	Command string
	Args    []string
	Env     map[string]string
}

// AuthRef is an opaque reference to auth configuration a Handle carries;
// pkg/mcpauth resolves it into actual headers/tokens. Kept here (rather
// than importing pkg/mcpauth) to avoid a dependency cycle — pkg/mcpauth
// imports pkg/mcp to read it back out.
type AuthRef struct {
	// Kind is "bearer" or "oauth2". Empty means "no handle-level auth —
	// fall back to agent-level mcpAuth[url]" (spec §4.5 precedence).
	Kind string

	// BearerToken is set when Kind == "bearer".
	BearerToken string

	// OAuth2 fields, set when Kind == "oauth2".
	OAuth2ClientID     string
	OAuth2ClientSecret string
	OAuth2TokenURL     string
}

func (a *AuthRef) authClass() AuthClass {
	if a == nil || a.Kind == "" {
		return AuthClassNone
	}
	return AuthClassCredentialed
}

// Handle identifies one MCP tool server (spec §3 MCPHandle).
type Handle struct {
	ID        string
	Transport TransportKind
	URL       string
	Stdio     *StdioTarget
	Auth      *AuthRef
}

// maxHandleIDLen keeps qualified tool names ("<id>.<tool>") within the
// 64-char LLM tool-name budget even for long raw tool names up to 51
// chars (spec §4.4 tool name length invariant).
const maxHandleIDLen = 12

// NewHTTPHandle builds a Handle for an HTTP(S) MCP endpoint with a
// deterministic id derived from the URL.
func NewHTTPHandle(url string, auth *AuthRef) *Handle {
	return &Handle{
		ID:        deriveID("mcp_", url),
		Transport: TransportHTTP,
		URL:       url,
		Auth:      auth,
	}
}

// NewStdioHandle builds a Handle for a stdio MCP child process with a
// deterministic id derived from command+args.
func NewStdioHandle(command string, args []string, env map[string]string) *Handle {
	descriptor := command + " " + strings.Join(args, " ")
	return &Handle{
		ID:        deriveID("std_", descriptor),
		Transport: TransportStdio,
		Stdio:     &StdioTarget{Command: command, Args: args, Env: env},
	}
}

// deriveID hashes descriptor to an 8-hex digest and truncates the
// resulting id to maxHandleIDLen, guaranteeing the invariant even for
// long prefixes. prefix must be at most 4 bytes so the full 32-bit hash
// (8 hex digits) survives truncation — a longer prefix would silently
// shrink the id's collision-resistant entropy.
func deriveID(prefix, descriptor string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(descriptor))
	id := fmt.Sprintf("%s%08x", prefix, h.Sum32())
	if len(id) > maxHandleIDLen {
		id = id[:maxHandleIDLen]
	}
	return id
}

// Descriptor returns the pool-key descriptor for this handle (URL for
// HTTP, "command args..." for stdio).
func (h *Handle) Descriptor() string {
	if h.Transport == TransportStdio && h.Stdio != nil {
		return h.Stdio.Command + " " + strings.Join(h.Stdio.Args, " ")
	}
	return h.URL
}

// AuthClass reports the pool-key auth bucket for this handle. Stdio
// handles always report AuthClassNone — they ignore auth configuration
// entirely (spec §4.5).
func (h *Handle) AuthClass() AuthClass {
	if h.Transport == TransportStdio {
		return AuthClassNone
	}
	return h.Auth.authClass()
}

// PoolKey is the (descriptor, auth-class) composite pool key.
type PoolKey struct {
	Descriptor string
	AuthClass  AuthClass
}

// Key returns this handle's pool key.
func (h *Handle) Key() PoolKey {
	return PoolKey{Descriptor: h.Descriptor(), AuthClass: h.AuthClass()}
}

// RawTool is the transport-level description of a tool as reported by
// ListTools, before qualification with the handle id.
type RawTool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolDefinition is a fully qualified tool ready to present to an LLM
// (spec §3 ToolDefinition).
type ToolDefinition struct {
	Name        string // "<handleID>.<rawName>"
	Description string
	Parameters  map[string]any
	Handle      *Handle
}

// Qualify builds the "<handleID>.<rawName>" qualified name.
func Qualify(handleID, rawName string) string {
	return handleID + "." + rawName
}

// SplitQualified reverses Qualify, recovering the handle id and raw tool
// name from a qualified name.
func SplitQualified(qualified string) (handleID, rawName string, ok bool) {
	idx := strings.IndexByte(qualified, '.')
	if idx < 0 {
		return "", "", false
	}
	return qualified[:idx], qualified[idx+1:], true
}

// CallResult is the normalized result of invoking a tool.
type CallResult struct {
	IsError bool
	Text    string
	Results []string // when the server returned multiple text blocks
	Raw     any
}

// ProviderTag returns the error/telemetry provider tag for h: the
// endpoint host for HTTP handles, or "mcp:<id>" otherwise (spec §4.8).
func (h *Handle) ProviderTag() string {
	if h.Transport == TransportHTTP {
		if u, err := url.Parse(h.URL); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return "mcp:" + h.ID
}

// Transport is the abstract MCP transport contract (spec §6.2).
type Transport interface {
	ListTools(ctx context.Context) ([]RawTool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error)
	Close() error
}
