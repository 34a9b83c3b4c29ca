package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaConverter_RoundTrip(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"limit": {"type": "number", "minimum": 0, "maximum": 100, "default": 10},
			"tags": {"type": "array", "items": {"type": "string", "pattern": "^[a-z]+$"}},
			"options": {
				"type": "object",
				"properties": {"deep": {"type": "boolean"}},
				"required": ["deep"]
			},
			"mode": {"type": "string", "enum": ["fast", "slow"]}
		},
		"required": ["path"]
	}`)

	internal, err := FromMCPSchema(raw)
	require.NoError(t, err)

	require.Contains(t, internal.Fields, "path")
	require.NotNil(t, internal.Fields["path"].MinLength)
	assert.Equal(t, 1, *internal.Fields["path"].MinLength)
	assert.Equal(t, []string{"path"}, internal.Required)
	require.NotNil(t, internal.Fields["limit"].Minimum)
	assert.Equal(t, float64(0), *internal.Fields["limit"].Minimum)
	assert.Equal(t, float64(10), internal.Fields["limit"].Default)
	require.NotNil(t, internal.Fields["tags"].Items)
	assert.Equal(t, "^[a-z]+$", internal.Fields["tags"].Items.Pattern)
	require.Contains(t, internal.Fields["options"].Properties, "deep")
	assert.Equal(t, []any{"fast", "slow"}, internal.Fields["mode"].Enum)

	back, err := internal.ToMCPSchema()
	require.NoError(t, err)
	reconverted, err := FromMCPSchema(back)
	require.NoError(t, err)
	assert.Equal(t, internal, reconverted)
}

func TestSchemaConverter_RefusesDangerousProperty(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {"__proto__": {"type": "string"}}
	}`)
	_, err := FromMCPSchema(raw)
	require.Error(t, err)
}

func TestCloneArguments_DeepClonesAndFilters(t *testing.T) {
	args := map[string]any{
		"path":      "/x",
		"__proto__": map[string]any{"polluted": true},
		"nested": map[string]any{
			"constructor": "nope",
			"list":        []any{map[string]any{"prototype": 1, "keep": 2}},
		},
	}

	clone := CloneArguments(args)
	assert.NotContains(t, clone, "__proto__")
	nested := clone["nested"].(map[string]any)
	assert.NotContains(t, nested, "constructor")
	item := nested["list"].([]any)[0].(map[string]any)
	assert.NotContains(t, item, "prototype")
	assert.Equal(t, 2, item["keep"])

	// Mutating the clone must not touch the original.
	nested["list"].([]any)[0].(map[string]any)["keep"] = 99
	orig := args["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)
	assert.Equal(t, 2, orig["keep"])
}

// Round-trips a wrapped tool call end to end: arguments pass through the
// converter's clone on the way to the server byte-for-byte.
func TestWrappedToolArgumentsRoundTrip(t *testing.T) {
	caller := &fakeToolCaller{result: &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: "ok"}}}}
	tool := &MCPTool{
		Name: "read-file",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"path": {"type": "string", "minLength": 1}},
			"required": ["path"]
		}`),
	}
	bridge := NewToolBridge(caller, "server", tool, "server_read_file")

	_, err := bridge.Execute(context.Background(), json.RawMessage(`{"path":"/x"}`))
	require.NoError(t, err)
	require.Equal(t, "read-file", caller.toolName)
	got, err := json.Marshal(caller.args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/x"}`, string(got))
}
