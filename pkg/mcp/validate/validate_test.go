package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
)

func issueSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer", "minimum": 1},
		},
		"required":             []any{"title"},
		"additionalProperties": false,
	}
}

func TestValidate_NilSchemaAcceptsAnything(t *testing.T) {
	v := New()
	err := v.Validate("tool.no_schema", nil, map[string]any{"anything": "goes"})
	assert.NoError(t, err)
}

func TestValidate_ValidArgsPass(t *testing.T) {
	v := New()
	err := v.Validate("github.create_issue", issueSchema(), map[string]any{"title": "bug report", "count": 1})
	assert.NoError(t, err)
}

func TestValidate_MissingRequiredFieldFails(t *testing.T) {
	v := New()
	err := v.Validate("github.create_issue", issueSchema(), map[string]any{"count": 1})
	require.Error(t, err)
	var ve *agenterrors.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.False(t, agenterrors.Retryable(err))
}

func TestValidate_WrongTypeFails(t *testing.T) {
	v := New()
	err := v.Validate("github.create_issue", issueSchema(), map[string]any{"title": "bug", "count": "not-a-number"})
	require.Error(t, err)
	var ve *agenterrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestValidate_BelowMinimumFails(t *testing.T) {
	v := New()
	err := v.Validate("github.create_issue", issueSchema(), map[string]any{"title": "bug", "count": 0})
	require.Error(t, err)
}

func TestValidate_AdditionalPropertyRejected(t *testing.T) {
	v := New()
	err := v.Validate("github.create_issue", issueSchema(), map[string]any{"title": "bug", "extra": "nope"})
	require.Error(t, err)
}

func TestValidate_SchemaCompiledOnce(t *testing.T) {
	v := New()
	require.NoError(t, v.Validate("tool.x", issueSchema(), map[string]any{"title": "a"}))

	v.mu.Lock()
	cached, ok := v.cached["tool.x"]
	v.mu.Unlock()
	require.True(t, ok)

	require.NoError(t, v.Validate("tool.x", issueSchema(), map[string]any{"title": "b"}))

	v.mu.Lock()
	cachedAgain := v.cached["tool.x"]
	v.mu.Unlock()
	assert.Same(t, cached, cachedAgain, "the second call should reuse the compiled schema, not recompile it")
}

func TestValidate_DistinctToolNamesCompileIndependently(t *testing.T) {
	v := New()
	otherSchema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"id": map[string]any{"type": "string"}},
		"required":   []any{"id"},
	}
	require.NoError(t, v.Validate("tool.a", issueSchema(), map[string]any{"title": "ok"}))
	require.NoError(t, v.Validate("tool.b", otherSchema, map[string]any{"id": "x"}))

	err := v.Validate("tool.b", otherSchema, map[string]any{})
	assert.Error(t, err)
}

type searchIssuesArgs struct {
	Query string `json:"query" jsonschema:"required,description=search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=max results,minimum=1,maximum=100"`
}

func TestGenerateSchema_DerivesObjectSchemaFromStructTags(t *testing.T) {
	schema, err := GenerateSchema[searchIssuesArgs]()
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "query")
}

func TestGenerateSchema_UsableDirectlyByValidator(t *testing.T) {
	schema, err := GenerateSchema[searchIssuesArgs]()
	require.NoError(t, err)

	v := New()
	require.NoError(t, v.Validate("tool.search_issues", schema, map[string]any{"query": "bug"}))

	err = v.Validate("tool.search_issues", schema, map[string]any{"limit": 10})
	require.Error(t, err)
	var ve *agenterrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}
