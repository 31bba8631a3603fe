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

// Package mcpauth resolves outbound MCP authentication (spec §2 component
// B, §4.5 Auth Manager): bearer token header injection, and OAuth2
// client-credentials token acquisition/caching built on
// golang.org/x/oauth2/clientcredentials — the OAuth2 flow present
// throughout the pack's service-auth layers.
package mcpauth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
	"github.com/kadirpekel/agentcore/pkg/mcp"
)

// tokenSafetyMargin is subtracted from a cached token's expiry so a
// request never starts against a token that might expire mid-flight
// (spec §4.5 "60 second safety margin").
const tokenSafetyMargin = 60 * time.Second

// AgentAuth resolves the agent-level fallback auth (mcpAuth[url] in spec
// terms) for an endpoint URL that has no handle-level AuthRef.
type AgentAuth func(url string) *mcp.AuthRef

// Manager resolves mcp.AuthRef values into per-request HTTP header
// injectors, caching OAuth2 tokens per endpoint.
type Manager struct {
	agentAuth AgentAuth

	mu     sync.Mutex
	tokens map[string]*cachedToken // keyed by token URL
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// New builds a Manager. agentAuth may be nil if no agent-level fallback
// auth is configured.
func New(agentAuth AgentAuth) *Manager {
	if agentAuth == nil {
		agentAuth = func(string) *mcp.AuthRef { return nil }
	}
	return &Manager{agentAuth: agentAuth, tokens: make(map[string]*cachedToken)}
}

// Injector resolves h's effective auth (handle-level overrides agent-level
// mcpAuth[url]; stdio handles never carry auth — spec §4.5 precedence)
// into an httptransport.HeaderInjector. The returned function re-resolves
// on every call (re-checking the OAuth2 token cache) rather than capturing
// a token once, since the pool reuses one transport — and one injector —
// across a token's entire lifetime and beyond. Stdio handles and handles
// with no resolvable auth get a no-op injector.
func (m *Manager) Injector(h *mcp.Handle) func(req *http.Request) error {
	if h.Transport == mcp.TransportStdio {
		return func(*http.Request) error { return nil }
	}

	return func(req *http.Request) error {
		ref := h.Auth
		if ref == nil || ref.Kind == "" {
			ref = m.agentAuth(h.URL)
		}
		if ref == nil || ref.Kind == "" {
			return nil
		}

		switch ref.Kind {
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+ref.BearerToken)
			return nil
		case "oauth2":
			token, err := m.oauth2Token(req.Context(), ref)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		default:
			return nil
		}
	}
}

// oauth2Token returns a cached, non-expired access token for ref's token
// endpoint, fetching a fresh one via the client-credentials grant if the
// cache is empty or within tokenSafetyMargin of expiring.
func (m *Manager) oauth2Token(ctx context.Context, ref *mcp.AuthRef) (string, error) {
	m.mu.Lock()
	if t, ok := m.tokens[ref.OAuth2TokenURL]; ok && time.Until(t.expiresAt) > tokenSafetyMargin {
		token := t.accessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	cfg := clientcredentials.Config{
		ClientID:     ref.OAuth2ClientID,
		ClientSecret: ref.OAuth2ClientSecret,
		TokenURL:     ref.OAuth2TokenURL,
	}

	tok, err := cfg.Token(ctx)
	if err != nil {
		// A 4xx answer from the token endpoint means the grant itself was
		// rejected (bad client id/secret, unknown client): a configuration
		// problem that retrying cannot fix. Any other failure (network
		// error, 5xx) stays retryable.
		retryable := true
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode >= 400 && rerr.Response.StatusCode < 500 {
			retryable = false
		}
		return "", &agenterrors.MCPConnectionError{
			Meta:  agenterrors.Meta{Provider: ref.OAuth2TokenURL, Retryable: retryable},
			Cause: err,
		}
	}

	m.mu.Lock()
	m.tokens[ref.OAuth2TokenURL] = &cachedToken{accessToken: tok.AccessToken, expiresAt: tok.Expiry}
	m.mu.Unlock()

	return tok.AccessToken, nil
}
