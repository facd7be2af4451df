// Package agent drives the bounded LLM tool-calling loop and dispatches the
// model's tool calls through an allowlist to the worker's own handlers.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/conveyor/pkg/llm"
)

// toolDefinitions is the full registry served to the model, filtered per job
// by the intersection of the requested list and the process allowlist.
var toolDefinitions = []llm.ToolDefinition{
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "repo_list",
			Description: "List allowlisted git repos available on the worker.",
			Parameters: map[string]any{
				"type": "object", "properties": map[string]any{}, "required": []string{},
			},
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "repo_status",
			Description: "Get git status (branch, dirty, porcelain) for a repo.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo": map[string]any{"type": "string", "description": "Repo name from allowlist"},
				},
				"required": []string{"repo"},
			},
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "repo_last_commit",
			Description: "Get last commit hash, author, date, subject for a repo.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo": map[string]any{"type": "string", "description": "Repo name from allowlist"},
				},
				"required": []string{"repo"},
			},
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "repo_grep",
			Description: "Search for a query in a repo (ripgrep or git grep).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":  map[string]any{"type": "string", "description": "Repo name from allowlist"},
					"query": map[string]any{"type": "string", "description": "Search query"},
					"path":  map[string]any{"type": "string", "description": "Optional path prefix to limit search"},
				},
				"required": []string{"repo", "query"},
			},
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "repo_readfile",
			Description: "Read a file in a repo by path and line range.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":       map[string]any{"type": "string", "description": "Repo name from allowlist"},
					"path":       map[string]any{"type": "string", "description": "Relative path within repo"},
					"start_line": map[string]any{"type": "integer", "description": "First line (1-based)", "default": 1},
					"end_line":   map[string]any{"type": "integer", "description": "Last line (inclusive)", "default": 200},
				},
				"required": []string{"repo", "path"},
			},
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "plan_echo",
			Description: "Create a plan (echo scaffold) with the given text; returns plan_id for approve.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Plan summary or description"},
				},
				"required": []string{"text"},
			},
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "approve_echo",
			Description: "Approve a plan by plan_id (echo scaffold).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"plan_id": map[string]any{"type": "string", "description": "Plan ID from plan_echo"},
				},
				"required": []string{"plan_id"},
			},
		},
	},
}

// SchemaFor returns the tool definitions whose names are in allowed.
func SchemaFor(allowed map[string]struct{}) []llm.ToolDefinition {
	var out []llm.ToolDefinition
	for _, def := range toolDefinitions {
		if _, ok := allowed[def.Function.Name]; ok {
			out = append(out, def)
		}
	}
	return out
}

// RegisteredToolNames lists every tool the registry knows.
func RegisteredToolNames() []string {
	names := make([]string, 0, len(toolDefinitions))
	for _, def := range toolDefinitions {
		names = append(names, def.Function.Name)
	}
	return names
}

// ParseToolArgs decodes a tool call's argument string. A blank string is an
// empty argument set; malformed JSON is an error recorded per call.
func ParseToolArgs(arguments string) (map[string]any, error) {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments JSON: %w", err)
	}
	return args, nil
}
