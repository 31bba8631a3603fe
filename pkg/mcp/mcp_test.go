package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHTTPHandle_DerivesBoundedDeterministicID(t *testing.T) {
	h1 := NewHTTPHandle("https://api.github.com/mcp", nil)
	h2 := NewHTTPHandle("https://api.github.com/mcp", nil)
	h3 := NewHTTPHandle("https://api.gitlab.com/mcp", nil)

	assert.Equal(t, h1.ID, h2.ID, "same URL must derive the same id")
	assert.NotEqual(t, h1.ID, h3.ID)
	assert.LessOrEqual(t, len(h1.ID), maxHandleIDLen)
	assert.Equal(t, TransportHTTP, h1.Transport)
	assert.Equal(t, "https://api.github.com/mcp", h1.URL)
}

func TestNewStdioHandle_DerivesFromCommandAndArgs(t *testing.T) {
	h := NewStdioHandle("npx", []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"}, nil)
	assert.Equal(t, TransportStdio, h.Transport)
	assert.LessOrEqual(t, len(h.ID), maxHandleIDLen)
	assert.Equal(t, "npx -y @modelcontextprotocol/server-filesystem /tmp", h.Descriptor())
}

func TestNewStdioHandle_DistinctCommandsDeriveDistinctIDs(t *testing.T) {
	h1 := NewStdioHandle("npx", []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"}, nil)
	h2 := NewStdioHandle("npx", []string{"-y", "@modelcontextprotocol/server-github"}, nil)
	h3 := NewStdioHandle("npx", []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"}, nil)

	assert.NotEqual(t, h1.ID, h2.ID, "distinct stdio targets must not collide on the truncated id")
	assert.Equal(t, h1.ID, h3.ID, "the same stdio target must derive the same id")
}

func TestDeriveID_FullHashSurvivesTruncationForShortPrefixes(t *testing.T) {
	id := deriveID("std_", "some descriptor")
	// prefix (4) + 8 hex digits == maxHandleIDLen: no hex digits lost to
	// truncation.
	assert.Len(t, id, maxHandleIDLen)
	assert.True(t, strings.HasPrefix(id, "std_"))
}

func TestHandle_AuthClass(t *testing.T) {
	tests := []struct {
		name   string
		handle *Handle
		want   AuthClass
	}{
		{"no_auth", NewHTTPHandle("https://x.example/mcp", nil), AuthClassNone},
		{"empty_auth_ref", NewHTTPHandle("https://x.example/mcp", &AuthRef{}), AuthClassNone},
		{"bearer_auth", NewHTTPHandle("https://x.example/mcp", &AuthRef{Kind: "bearer", BearerToken: "t"}), AuthClassCredentialed},
		{"oauth2_auth", NewHTTPHandle("https://x.example/mcp", &AuthRef{Kind: "oauth2"}), AuthClassCredentialed},
		{"stdio_ignores_auth", &Handle{Transport: TransportStdio, Auth: &AuthRef{Kind: "bearer", BearerToken: "t"}}, AuthClassNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.handle.AuthClass())
		})
	}
}

func TestHandle_Key_CombinesDescriptorAndAuthClass(t *testing.T) {
	h1 := NewHTTPHandle("https://x.example/mcp", &AuthRef{Kind: "bearer", BearerToken: "a"})
	h2 := NewHTTPHandle("https://x.example/mcp", &AuthRef{Kind: "bearer", BearerToken: "b"})
	h3 := NewHTTPHandle("https://x.example/mcp", nil)

	assert.Equal(t, h1.Key(), h2.Key(), "pool key buckets by auth class, not the specific credential")
	assert.NotEqual(t, h1.Key(), h3.Key())
}

func TestQualifyAndSplitQualified(t *testing.T) {
	qualified := Qualify("mcp_abcd1234", "search_issues")
	assert.Equal(t, "mcp_abcd1234.search_issues", qualified)

	id, name, ok := SplitQualified(qualified)
	assert.True(t, ok)
	assert.Equal(t, "mcp_abcd1234", id)
	assert.Equal(t, "search_issues", name)
}

func TestSplitQualified_RawNameCanContainDots(t *testing.T) {
	id, name, ok := SplitQualified("mcp_abcd1234.namespace.tool_name")
	assert.True(t, ok)
	assert.Equal(t, "mcp_abcd1234", id)
	assert.Equal(t, "namespace.tool_name", name)
}

func TestSplitQualified_NoSeparatorFails(t *testing.T) {
	_, _, ok := SplitQualified("not-qualified")
	assert.False(t, ok)
}

func TestHandle_ProviderTag(t *testing.T) {
	httpHandle := NewHTTPHandle("https://api.github.com/mcp", nil)
	assert.Equal(t, "api.github.com", httpHandle.ProviderTag())

	stdioHandle := NewStdioHandle("npx", []string{"server"}, nil)
	assert.Equal(t, "mcp:"+stdioHandle.ID, stdioHandle.ProviderTag())
}
