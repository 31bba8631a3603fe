package stdiotransport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/mcp-go/mcp"
)

// A zero-value Transport (client == nil) models the post-Close state;
// exercising it lets these tests cover the "closed client" guard on every
// method without spawning a real child process.

func TestListTools_ClosedClientReturnsError(t *testing.T) {
	tr := &Transport{}
	_, err := tr.ListTools(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestCallTool_ClosedClientReturnsError(t *testing.T) {
	tr := &Transport{}
	_, err := tr.CallTool(context.Background(), "any_tool", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestClose_OnZeroValueTransportIsANoop(t *testing.T) {
	tr := &Transport{}
	require.NoError(t, tr.Close())
	assert.Nil(t, tr.client)
	assert.False(t, tr.ready)
}

func TestEnvSlice_BuildsKeyValuePairs(t *testing.T) {
	got := envSlice(map[string]string{"FOO": "bar"})
	assert.Equal(t, []string{"FOO=bar"}, got)
}

func TestEnvSlice_NilForEmptyMap(t *testing.T) {
	assert.Nil(t, envSlice(nil))
	assert.Nil(t, envSlice(map[string]string{}))
}

func TestConvertSchema_EmptySchemaMarshalsToAMap(t *testing.T) {
	got := convertSchema(mcp.ToolInputSchema{})
	assert.NotNil(t, got, "marshaling the zero-value schema must still round-trip to a non-nil map")
}
