package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/conveyor/pkg/config"
	"github.com/codeready-toolchain/conveyor/pkg/llm"
	"github.com/codeready-toolchain/conveyor/pkg/repo"
)

// ToolOutputMaxBytes bounds a single tool response recorded into the
// conversation and the audit trail.
const ToolOutputMaxBytes = 8000

// TaskRequest is the decoded llm_task payload.
type TaskRequest struct {
	Prompt      string       `json:"prompt"`
	Tools       []string     `json:"tools,omitempty"`
	RepoContext *RepoContext `json:"repo_context,omitempty"`
	MaxSteps    *int         `json:"max_steps,omitempty"`
}

// ToolCallAudit records one tool call for the result envelope. Args holds
// the parsed arguments, or the raw argument string when parsing failed.
type ToolCallAudit struct {
	Name            string `json:"name"`
	Args            any    `json:"args"`
	Status          string `json:"status"`
	TruncatedOutput string `json:"truncated_output"`
}

// Safety surfaces non-failure degradations of the loop.
type Safety struct {
	Truncations     int    `json:"truncations,omitempty"`
	MaxStepsReached bool   `json:"max_steps_reached,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ResultEnvelope is the llm_task result, serialized as the job's result string.
type ResultEnvelope struct {
	Final     string          `json:"final"`
	ToolCalls []ToolCallAudit `json:"tool_calls"`
	Model     string          `json:"model"`
	WorkerID  string          `json:"worker_id"`
	Safety    Safety          `json:"safety"`
}

// RunToolLoop drives the bounded conversation: call the model, execute its
// tool calls through the executor, append truncated tool responses, and stop
// on a plain-text answer or when the step budget is exhausted. Tool errors
// are recorded per call and fed back to the model; only LLM transport errors
// abort the loop.
func RunToolLoop(
	ctx context.Context,
	client llm.Client,
	cfg *config.LLMConfig,
	req *TaskRequest,
	exec ToolExecutor,
) (*ResultEnvelope, error) {
	maxSteps := cfg.MaxSteps
	if req.MaxSteps != nil {
		maxSteps = *req.MaxSteps
		if maxSteps > cfg.MaxSteps {
			maxSteps = cfg.MaxSteps
		}
	}
	if maxSteps < 1 {
		maxSteps = 1
	}

	// The schema served to the model is the intersection of the job's
	// requested tools and the process allowlist.
	toolsToUse := make(map[string]struct{})
	if len(req.Tools) > 0 {
		for _, name := range req.Tools {
			if cfg.ToolAllowed(name) {
				toolsToUse[name] = struct{}{}
			}
		}
	}
	if len(toolsToUse) == 0 {
		for name := range cfg.AllowedTools {
			toolsToUse[name] = struct{}{}
		}
	}
	schema := SchemaFor(toolsToUse)

	envelope := &ResultEnvelope{
		ToolCalls: []ToolCallAudit{},
		Model:     cfg.Model,
		WorkerID:  exec.WorkerID(),
	}
	if len(schema) == 0 {
		envelope.Final = "No tools available or configured."
		envelope.Safety.Reason = "no_tools"
		return envelope, nil
	}

	system := fmt.Sprintf(
		"You are a helpful assistant with access to read-only repo tools (repo_list, repo_status, repo_grep, repo_readfile, etc.) "+
			"and plan_echo/approve_echo. Use the provided tools to answer the user. "+
			"You have at most %d tool-call rounds. "+
			"Tool output may be truncated. When you have enough information, respond with a final answer in plain text (no tool calls).",
		maxSteps)
	messages := []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(req.Prompt),
	}

	var final *string
	for step := 0; step < maxSteps; step++ {
		resp, err := client.ChatWithTools(ctx, messages, schema)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content != nil && *resp.Content != "" {
				final = resp.Content
			} else {
				noResp := "(no response)"
				final = &noResp
			}
			break
		}

		// assistant turn first, tool responses after, in request order
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			name := call.Function.Name
			args, err := ParseToolArgs(call.Function.Arguments)
			if err != nil {
				envelope.ToolCalls = append(envelope.ToolCalls, ToolCallAudit{
					Name:            name,
					Args:            call.Function.Arguments,
					Status:          "error",
					TruncatedOutput: err.Error(),
				})
				messages = append(messages, llm.ToolMessage(call.ID, "Error: "+err.Error()))
				continue
			}

			if _, ok := toolsToUse[name]; !ok || !exec.Allowed(name) {
				msg := fmt.Sprintf("tool not allowed: %s", name)
				envelope.ToolCalls = append(envelope.ToolCalls, ToolCallAudit{
					Name:            name,
					Args:            args,
					Status:          "error",
					TruncatedOutput: msg,
				})
				messages = append(messages, llm.ToolMessage(call.ID, "Error: "+msg))
				continue
			}

			result, err := exec.Execute(ctx, name, args)
			if err != nil {
				msg := err.Error()
				if msg == "" {
					msg = "unknown"
				}
				envelope.ToolCalls = append(envelope.ToolCalls, ToolCallAudit{
					Name:            name,
					Args:            args,
					Status:          "error",
					TruncatedOutput: msg,
				})
				messages = append(messages, llm.ToolMessage(call.ID, "Error: "+msg))
				continue
			}

			truncated, wasTruncated := repo.TruncateBytes(result, ToolOutputMaxBytes)
			if wasTruncated {
				envelope.Safety.Truncations++
				slog.Debug("Tool output truncated", "tool", name, "bytes", len(result))
			}
			envelope.ToolCalls = append(envelope.ToolCalls, ToolCallAudit{
				Name:            name,
				Args:            args,
				Status:          "ok",
				TruncatedOutput: truncated,
			})
			messages = append(messages, llm.ToolMessage(call.ID, truncated))
		}
	}

	if final == nil {
		envelope.Final = "Max tool steps reached without final answer."
		envelope.Safety.MaxStepsReached = true
	} else {
		envelope.Final = *final
	}
	return envelope, nil
}

// Marshal serializes the envelope as the job result string.
func (e *ResultEnvelope) Marshal() (string, error) {
	out, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
