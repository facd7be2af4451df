package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/conveyor/pkg/agent"
	"github.com/codeready-toolchain/conveyor/pkg/version"
)

// SupportedCommands is the worker's fixed command vocabulary, in dispatch
// order for the capabilities report.
var SupportedCommands = []string{
	"ping",
	"capabilities",
	"plan_echo",
	"approve_echo",
	"repo_list",
	"repo_status",
	"repo_last_commit",
	"repo_grep",
	"repo_readfile",
	"llm_task",
}

// capabilitiesReport is the capabilities command's result.
type capabilitiesReport struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities"`
	Version      string   `json:"version"`
}

// repoArgs is the shared payload shape of the repo commands.
type repoArgs struct {
	Repo  string `json:"repo"`
	Query string `json:"query"`
	Path  string `json:"path"`
	Start *int   `json:"start"`
	End   *int   `json:"end"`
}

// Execute runs one claimed job's command against its payload and returns the
// result string. An error fails the job.
func (r *Runner) Execute(ctx context.Context, command, payload string) (string, error) {
	switch command {
	case "ping":
		return "pong: " + payload, nil

	case "capabilities":
		caps := append([]string{}, SupportedCommands...)
		for _, c := range r.cfg.CapsList() {
			if strings.HasPrefix(c, "llm:") && !containsStr(caps, c) {
				caps = append(caps, c)
			}
		}
		out, err := json.Marshal(capabilitiesReport{
			WorkerID:     r.cfg.WorkerID,
			Capabilities: caps,
			Version:      version.Full(),
		})
		if err != nil {
			return "", err
		}
		return string(out), nil

	case "plan_echo":
		return r.plans.CreateEcho(payload)

	case "approve_echo":
		planID := strings.TrimSpace(payload)
		if planID == "" {
			return "", errors.New("plan_id required")
		}
		return r.plans.ApproveEcho(planID)

	case "repo_list":
		return r.repos.List(ctx)

	case "repo_status":
		args, err := parseRepoArgs(payload)
		if err != nil {
			return "", err
		}
		return r.repos.Status(ctx, args.Repo)

	case "repo_last_commit":
		args, err := parseRepoArgs(payload)
		if err != nil {
			return "", err
		}
		return r.repos.LastCommit(ctx, args.Repo)

	case "repo_grep":
		args, err := parseRepoArgs(payload)
		if err != nil {
			return "", err
		}
		return r.repos.Grep(ctx, args.Repo, args.Query, args.Path)

	case "repo_readfile":
		args, err := parseRepoArgs(payload)
		if err != nil {
			return "", err
		}
		if args.Path == "" {
			return "", errors.New("path required")
		}
		start, end := 1, 200
		if args.Start != nil {
			start = *args.Start
		}
		if args.End != nil {
			end = *args.End
		}
		return r.repos.ReadFile(ctx, args.Repo, args.Path, start, end)

	case "llm_task":
		return r.runLLMTask(ctx, payload)
	}

	return fmt.Sprintf("unknown command: %s", command), nil
}

// runLLMTask validates the llm_task payload and drives the tool loop.
func (r *Runner) runLLMTask(ctx context.Context, payload string) (string, error) {
	var req agent.TaskRequest
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return "", errors.New("llm_task payload must be valid JSON")
		}
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return "", errors.New("llm_task payload must include prompt")
	}
	if !r.llmCfg.Configured() {
		return "", errors.New("LLM not configured (set LLM_BASE_URL and LLM_MODEL)")
	}
	for _, tool := range req.Tools {
		if !r.llmCfg.ToolAllowed(tool) {
			return "", errors.New("llm_task tools must be subset of LLM_ALLOWED_TOOLS")
		}
	}

	envelope, err := agent.RunToolLoop(ctx, r.llmClient, r.llmCfg, &req, r.bridge(req.RepoContext))
	if err != nil {
		return "", err
	}
	return envelope.Marshal()
}

func parseRepoArgs(payload string) (*repoArgs, error) {
	var args repoArgs
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &args); err != nil {
			return nil, errors.New("payload must be valid JSON")
		}
	}
	if args.Repo == "" {
		return nil, errors.New("repo required")
	}
	return &args, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
