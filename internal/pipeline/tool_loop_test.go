package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sentinel-chat-go/internal/tools"
	"sentinel-chat-go/pkg/llm"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoRegistry() *tools.Registry {
	return tools.NewRegistry(
		&funcTool{name: "echo", fn: func(args json.RawMessage) (string, error) { return "echo:" + string(args), nil }},
		&funcTool{name: "broken", fn: func(args json.RawMessage) (string, error) { return "", errors.New("disk full") }},
		&funcTool{name: "panicky", fn: func(args json.RawMessage) (string, error) { panic("boom") }},
	)
}

func userTurn(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: text}}
}

func TestToolLoop_NoToolsSingleCall(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.Completion{{Content: "hi there", Usage: llm.Usage{TotalTokens: 7}}}}
	res, err := NewToolLoop(client, echoRegistry()).Run(context.Background(), userTurn("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Content)
	assert.Equal(t, 7, res.TotalTokens)
	assert.Equal(t, 1, client.calls)
	assert.Len(t, client.toolDefs[0], 3)
}

func TestToolLoop_OneRoundTripAndTokenSum(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "echo", `{"x":1}`)}, Usage: llm.Usage{TotalTokens: 10}},
		{Content: "done", Usage: llm.Usage{TotalTokens: 5}},
	}}
	res, err := NewToolLoop(client, echoRegistry()).Run(context.Background(), userTurn("use echo"))
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
	assert.Equal(t, 15, res.TotalTokens)
	assert.Equal(t, 1, res.ToolCalls)

	require.Equal(t, 2, client.calls)
	assert.Nil(t, client.toolDefs[1])
	second := client.requests[1]
	require.Len(t, second, 4)
	assert.Equal(t, llm.RoleAssistant, second[2].Role)
	assert.Len(t, second[2].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, second[3].Role)
	assert.Equal(t, "call_1", second[3].ToolCallID)
	assert.Equal(t, `echo:{"x":1}`, second[3].Content)
}

func TestToolLoop_SecondPassToolCallsIgnored(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{toolCall("c1", "echo", `{}`)}},
		{Content: "partial answer", ToolCalls: []llm.ToolCall{toolCall("c2", "echo", `{}`), toolCall("c3", "echo", `{}`)}},
		{Content: "never reached"},
	}}
	res, err := NewToolLoop(client, echoRegistry()).Run(context.Background(), userTurn("loop forever"))
	require.NoError(t, err)
	assert.Equal(t, "partial answer", res.Content)
	assert.Equal(t, 2, client.calls)
}

func TestToolLoop_ToolFailuresBecomeSyntheticResults(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{
			toolCall("a", "missing_tool", `{}`),
			toolCall("b", "broken", `{}`),
			toolCall("c", "panicky", `{}`),
		}},
		{Content: "sorry, tools failed"},
	}}
	res, err := NewToolLoop(client, echoRegistry()).Run(context.Background(), userTurn("go"))
	require.NoError(t, err)
	assert.Equal(t, "sorry, tools failed", res.Content)

	second := client.requests[1]
	results := second[len(second)-3:]
	assert.Equal(t, "Error: Tool missing_tool not found", results[0].Content)
	assert.Equal(t, "Error executing tool: disk full", results[1].Content)
	assert.Equal(t, "Error executing tool: boom", results[2].Content)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, results[i].ToolCallID)
	}
}

func TestToolLoop_InferenceErrorWrapped(t *testing.T) {
	client := &scriptedLLM{err: errors.New("503")}
	_, err := NewToolLoop(client, nil).Run(context.Background(), userTurn("hi"))
	assert.ErrorIs(t, err, ErrInference)
}
