package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conveyor/pkg/config"
	"github.com/codeready-toolchain/conveyor/pkg/plans"
	"github.com/codeready-toolchain/conveyor/pkg/repo"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	allowed := make(map[string]struct{})
	for _, name := range config.DefaultAllowedTools {
		allowed[name] = struct{}{}
	}
	return &Bridge{
		Repos: repo.NewService(repo.Config{
			Base:           t.TempDir(),
			AllowlistPath:  "",
			CmdTimeout:     5 * time.Second,
			MaxOutputBytes: 1000,
			MaxFileBytes:   1 << 20,
			MaxLines:       100,
		}, "bridge-worker"),
		Plans:        plans.NewStore(t.TempDir()),
		AllowedTools: allowed,
		ID:           "bridge-worker",
	}
}

func TestBridgeRejectsUnknownAndDisallowed(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	_, err := b.Execute(ctx, "rm_rf", map[string]any{})
	assert.ErrorContains(t, err, "not allowed")

	b.AllowedTools["mystery_tool"] = struct{}{}
	_, err = b.Execute(ctx, "mystery_tool", map[string]any{})
	assert.ErrorContains(t, err, "unknown tool")
}

func TestBridgeRequiresRepo(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.Execute(context.Background(), "repo_status", map[string]any{})
	assert.ErrorContains(t, err, "repo required")
}

func TestBridgeAppliesRepoContextDefault(t *testing.T) {
	b := newTestBridge(t)
	b.Context = &RepoContext{Repo: "ghost"}

	// default repo is applied; the failure is the allowlist, not a missing arg
	_, err := b.Execute(context.Background(), "repo_status", map[string]any{})
	assert.ErrorIs(t, err, repo.ErrNotAllowlisted)
}

func TestBridgePlanFlow(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	out, err := b.Execute(ctx, "plan_echo", map[string]any{"text": "do a thing"})
	require.NoError(t, err)
	var plan plans.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))

	approved, err := b.Execute(ctx, "approve_echo", map[string]any{"plan_id": plan.PlanID})
	require.NoError(t, err)
	assert.Contains(t, approved, `"approved"`)

	_, err = b.Execute(ctx, "approve_echo", map[string]any{"plan_id": "nope"})
	assert.ErrorIs(t, err, plans.ErrUnknownPlan)

	_, err = b.Execute(ctx, "approve_echo", map[string]any{})
	assert.ErrorContains(t, err, "plan_id required")
}

func TestIntArg(t *testing.T) {
	args := map[string]any{"a": float64(7), "b": "12", "c": "x"}
	assert.Equal(t, 7, intArg(args, "a", 1))
	assert.Equal(t, 12, intArg(args, "b", 1))
	assert.Equal(t, 1, intArg(args, "c", 1))
	assert.Equal(t, 1, intArg(args, "missing", 1))
}
