package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/conveyor/pkg/plans"
	"github.com/codeready-toolchain/conveyor/pkg/repo"
)

// RepoContext carries per-job defaults applied when the model omits a repo
// or path argument.
type RepoContext struct {
	Repo     string `json:"repo"`
	PathHint string `json:"path_hint"`
}

// ToolExecutor is the bridge the loop dispatches through. It exposes exactly
// the handlers the tools need plus the allowlist and worker identity.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
	Allowed(name string) bool
	WorkerID() string
}

// Bridge implements ToolExecutor over the worker's repo and plan services.
type Bridge struct {
	Repos        *repo.Service
	Plans        *plans.Store
	AllowedTools map[string]struct{}
	ID           string
	Context      *RepoContext
}

var _ ToolExecutor = (*Bridge)(nil)

// Allowed reports whether the tool name is in the process allowlist.
func (b *Bridge) Allowed(name string) bool {
	_, ok := b.AllowedTools[name]
	return ok
}

// WorkerID returns the worker identity stamped into envelopes.
func (b *Bridge) WorkerID() string { return b.ID }

// Execute runs one tool call. Argument errors and handler failures come back
// as errors; the loop records them per call and keeps going.
func (b *Bridge) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	if !b.Allowed(name) {
		return "", fmt.Errorf("tool not allowed: %s", name)
	}

	repoName := stringArg(args, "repo")
	if repoName == "" && b.Context != nil {
		repoName = b.Context.Repo
	}

	switch name {
	case "repo_list":
		return b.Repos.List(ctx)
	case "repo_status":
		if repoName == "" {
			return "", errors.New("repo required")
		}
		return b.Repos.Status(ctx, repoName)
	case "repo_last_commit":
		if repoName == "" {
			return "", errors.New("repo required")
		}
		return b.Repos.LastCommit(ctx, repoName)
	case "repo_grep":
		if repoName == "" {
			return "", errors.New("repo required")
		}
		path := stringArg(args, "path")
		if path == "" && b.Context != nil {
			path = b.Context.PathHint
		}
		return b.Repos.Grep(ctx, repoName, stringArg(args, "query"), path)
	case "repo_readfile":
		if repoName == "" {
			return "", errors.New("repo required")
		}
		path := stringArg(args, "path")
		if path == "" && b.Context != nil {
			path = b.Context.PathHint
		}
		if path == "" {
			return "", errors.New("path required")
		}
		return b.Repos.ReadFile(ctx, repoName, path, intArg(args, "start_line", 1), intArg(args, "end_line", 200))
	case "plan_echo":
		return b.Plans.CreateEcho(stringArg(args, "text"))
	case "approve_echo":
		planID := strings.TrimSpace(stringArg(args, "plan_id"))
		if planID == "" {
			return "", errors.New("plan_id required")
		}
		return b.Plans.ApproveEcho(planID)
	}
	return "", fmt.Errorf("unknown tool: %s", name)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg reads a numeric argument; JSON numbers decode as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
