package tool_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-dev/graphkit/graph/tool"
)

func TestExtractCallsPreservesArrivalOrder(t *testing.T) {
	messages := []map[string]any{
		{
			"role": "assistant",
			"tool_calls": []map[string]any{
				{"id": "b", "name": "search_web", "arguments": map[string]any{"q": "go"}},
				{"id": "a", "name": "get_weather", "arguments": map[string]any{"loc": "sf"}},
			},
		},
		{"role": "user"},
		{
			"role": "assistant",
			"tool_calls": []map[string]any{
				{"id": "c", "name": "calculate", "arguments": map[string]any{"expr": "1+1"}},
			},
		},
	}

	calls := tool.ExtractCalls(messages)
	require.Len(t, calls, 3)
	assert.Equal(t, "b", calls[0].ID)
	assert.Equal(t, "search_web", calls[0].Name)
	assert.Equal(t, "a", calls[1].ID)
	assert.Equal(t, "c", calls[2].ID)
}

func TestPolicyAllowedDenyTakesPrecedence(t *testing.T) {
	p := tool.Policy{Allow: []string{"fs.*"}, Deny: []string{"fs.delete"}}
	assert.True(t, p.Allowed("fs.read"))
	assert.False(t, p.Allowed("fs.delete"))
	assert.False(t, p.Allowed("net.fetch"))
}

func TestPolicyEmptyAllowMeansAllowAllButDenied(t *testing.T) {
	p := tool.Policy{Deny: []string{"fs.*"}}
	assert.True(t, p.Allowed("search_web"))
	assert.False(t, p.Allowed("fs.delete"))
}

func TestDispatchPreservesOrderAndConvertsErrorsToResults(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(&tool.MockTool{
		ToolName:  "ok",
		Responses: []map[string]any{{"value": 1}},
	})
	reg.Register(&tool.MockTool{ToolName: "broken", Err: assert.AnError})

	in := tool.NewInterpreter(reg, tool.Policy{})
	calls := []tool.Call{
		{ID: "1", Name: "ok"},
		{ID: "2", Name: "broken"},
		{ID: "3", Name: "missing"},
	}

	results := in.Dispatch(context.Background(), calls)
	require.Len(t, results, 3)

	assert.Equal(t, "1", results[0].CallID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Output["value"])

	assert.Equal(t, "2", results[1].CallID)
	assert.Error(t, results[1].Err)

	assert.Equal(t, "3", results[2].CallID)
	assert.Error(t, results[2].Err)
}

func TestDispatchDeniedByPolicy(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(&tool.MockTool{ToolName: "fs.delete", Responses: []map[string]any{{"ok": true}}})

	in := tool.NewInterpreter(reg, tool.Policy{Deny: []string{"fs.*"}})
	results := in.Dispatch(context.Background(), []tool.Call{{ID: "1", Name: "fs.delete"}})

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Nil(t, results[0].Output)
}
