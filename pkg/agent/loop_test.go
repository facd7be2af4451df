package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conveyor/pkg/config"
	"github.com/codeready-toolchain/conveyor/pkg/llm"
)

// scriptedClient returns canned responses in order; entries past the script
// repeat the last one.
type scriptedClient struct {
	responses []scriptEntry
	index     int
	captured  [][]llm.Message
}

type scriptEntry struct {
	msg *llm.Message
	err error
}

func (c *scriptedClient) ChatWithTools(_ context.Context, messages []llm.Message, _ []llm.ToolDefinition) (*llm.Message, error) {
	c.captured = append(c.captured, messages)
	entry := c.responses[min(c.index, len(c.responses)-1)]
	c.index++
	return entry.msg, entry.err
}

func textResponse(s string) scriptEntry {
	return scriptEntry{msg: &llm.Message{Role: llm.RoleAssistant, Content: &s}}
}

func toolCallResponse(calls ...llm.ToolCall) scriptEntry {
	return scriptEntry{msg: &llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// stubExecutor is a canned ToolExecutor for loop tests.
type stubExecutor struct {
	allowed map[string]struct{}
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func newStubExecutor(tools ...string) *stubExecutor {
	allowed := make(map[string]struct{})
	for _, t := range tools {
		allowed[t] = struct{}{}
	}
	return &stubExecutor{allowed: allowed, outputs: map[string]string{}, errs: map[string]error{}}
}

func (s *stubExecutor) Execute(_ context.Context, name string, _ map[string]any) (string, error) {
	s.calls = append(s.calls, name)
	if err, ok := s.errs[name]; ok {
		return "", err
	}
	if out, ok := s.outputs[name]; ok {
		return out, nil
	}
	return "stub output for " + name, nil
}

func (s *stubExecutor) Allowed(name string) bool {
	_, ok := s.allowed[name]
	return ok
}

func (s *stubExecutor) WorkerID() string { return "test-worker" }

func testLLMConfig() *config.LLMConfig {
	allowed := make(map[string]struct{})
	for _, t := range config.DefaultAllowedTools {
		allowed[t] = struct{}{}
	}
	return &config.LLMConfig{
		BaseURL:      "http://llm.test",
		Model:        "test-model",
		Temperature:  0.2,
		MaxTokens:    256,
		MaxSteps:     6,
		AllowedTools: allowed,
	}
}

func TestHappyPathOneToolCall(t *testing.T) {
	client := &scriptedClient{responses: []scriptEntry{
		toolCallResponse(call("call_1", "repo_list", "{}")),
		textResponse("There are two repos."),
	}}
	exec := newStubExecutor(config.DefaultAllowedTools...)

	env, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "list repos"}, exec)
	require.NoError(t, err)

	assert.Equal(t, "There are two repos.", env.Final)
	require.Len(t, env.ToolCalls, 1)
	assert.Equal(t, "repo_list", env.ToolCalls[0].Name)
	assert.Equal(t, "ok", env.ToolCalls[0].Status)
	assert.False(t, env.Safety.MaxStepsReached)
	assert.Equal(t, "test-model", env.Model)
	assert.Equal(t, "test-worker", env.WorkerID)

	// second model call saw assistant turn + tool response appended
	require.Len(t, client.captured, 2)
	last := client.captured[1]
	assert.Equal(t, llm.RoleAssistant, last[len(last)-2].Role)
	assert.Equal(t, llm.RoleTool, last[len(last)-1].Role)
	assert.Equal(t, "call_1", last[len(last)-1].ToolCallID)
}

func TestImmediateFinalAnswer(t *testing.T) {
	client := &scriptedClient{responses: []scriptEntry{textResponse("42")}}
	env, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "q"}, newStubExecutor(config.DefaultAllowedTools...))
	require.NoError(t, err)
	assert.Equal(t, "42", env.Final)
	assert.Empty(t, env.ToolCalls)
	assert.Len(t, client.captured, 1)
}

func TestMaxStepsReached(t *testing.T) {
	client := &scriptedClient{responses: []scriptEntry{
		toolCallResponse(call("c", "repo_list", "{}")),
	}}
	steps := 3
	env, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "loop forever", MaxSteps: &steps},
		newStubExecutor(config.DefaultAllowedTools...))
	require.NoError(t, err)

	assert.Equal(t, "Max tool steps reached without final answer.", env.Final)
	assert.True(t, env.Safety.MaxStepsReached)
	assert.Len(t, client.captured, 3, "at most max_steps LLM calls")
}

func TestMaxStepsClampedToConfig(t *testing.T) {
	client := &scriptedClient{responses: []scriptEntry{
		toolCallResponse(call("c", "repo_list", "{}")),
	}}
	steps := 99
	env, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "p", MaxSteps: &steps},
		newStubExecutor(config.DefaultAllowedTools...))
	require.NoError(t, err)
	assert.True(t, env.Safety.MaxStepsReached)
	assert.Len(t, client.captured, 6)
}

func TestNoToolsFastPath(t *testing.T) {
	cfg := testLLMConfig()
	cfg.AllowedTools = map[string]struct{}{}
	client := &scriptedClient{responses: []scriptEntry{textResponse("never called")}}

	env, err := RunToolLoop(context.Background(), client, cfg,
		&TaskRequest{Prompt: "p"}, newStubExecutor())
	require.NoError(t, err)
	assert.Equal(t, "No tools available or configured.", env.Final)
	assert.Equal(t, "no_tools", env.Safety.Reason)
	assert.Empty(t, client.captured, "model is never consulted")
}

func TestLLMErrorAbortsLoop(t *testing.T) {
	client := &scriptedClient{responses: []scriptEntry{{err: errors.New("connection refused")}}}
	_, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "p"}, newStubExecutor(config.DefaultAllowedTools...))
	assert.ErrorContains(t, err, "connection refused")
}

func TestToolErrorContinuesLoop(t *testing.T) {
	client := &scriptedClient{responses: []scriptEntry{
		toolCallResponse(call("c1", "repo_status", `{"repo":"ghost"}`)),
		textResponse("could not check status"),
	}}
	exec := newStubExecutor(config.DefaultAllowedTools...)
	exec.errs["repo_status"] = errors.New("repo not allowlisted")

	env, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "p"}, exec)
	require.NoError(t, err, "tool errors do not fail the job")
	require.Len(t, env.ToolCalls, 1)
	assert.Equal(t, "error", env.ToolCalls[0].Status)
	assert.Equal(t, "repo not allowlisted", env.ToolCalls[0].TruncatedOutput)

	// the model observed the error as a tool message
	last := client.captured[1]
	require.NotNil(t, last[len(last)-1].Content)
	assert.Contains(t, *last[len(last)-1].Content, "Error: repo not allowlisted")
}

func TestInvalidArgumentsRecorded(t *testing.T) {
	client := &scriptedClient{responses: []scriptEntry{
		toolCallResponse(call("c1", "repo_grep", `{broken json`)),
		textResponse("done"),
	}}
	exec := newStubExecutor(config.DefaultAllowedTools...)

	env, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "p"}, exec)
	require.NoError(t, err)
	require.Len(t, env.ToolCalls, 1)
	assert.Equal(t, "error", env.ToolCalls[0].Status)
	assert.Equal(t, `{broken json`, env.ToolCalls[0].Args, "raw args preserved on parse failure")
	assert.Empty(t, exec.calls, "nothing dispatched")
}

func TestToolOutputTruncation(t *testing.T) {
	client := &scriptedClient{responses: []scriptEntry{
		toolCallResponse(call("c1", "repo_grep", `{"repo":"r","query":"q"}`)),
		textResponse("done"),
	}}
	exec := newStubExecutor(config.DefaultAllowedTools...)
	exec.outputs["repo_grep"] = strings.Repeat("m", ToolOutputMaxBytes+500)

	env, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "p"}, exec)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Safety.Truncations)
	assert.Len(t, env.ToolCalls[0].TruncatedOutput, ToolOutputMaxBytes)
}

func TestRequestedToolsFilterSchema(t *testing.T) {
	// only repo_list requested; model asks for repo_grep anyway
	client := &scriptedClient{responses: []scriptEntry{
		toolCallResponse(call("c1", "repo_grep", `{"repo":"r","query":"q"}`)),
		textResponse("done"),
	}}
	exec := newStubExecutor("repo_list")

	env, err := RunToolLoop(context.Background(), client, testLLMConfig(),
		&TaskRequest{Prompt: "p", Tools: []string{"repo_list"}}, exec)
	require.NoError(t, err)
	require.Len(t, env.ToolCalls, 1)
	assert.Equal(t, "error", env.ToolCalls[0].Status)
	assert.Contains(t, env.ToolCalls[0].TruncatedOutput, "not allowed")
}

func TestEnvelopeMarshalShape(t *testing.T) {
	env := &ResultEnvelope{
		Final:     "answer",
		ToolCalls: []ToolCallAudit{},
		Model:     "m",
		WorkerID:  "w",
	}
	out, err := env.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"final":"answer","tool_calls":[],"model":"m","worker_id":"w","safety":{}}`, out)
}
