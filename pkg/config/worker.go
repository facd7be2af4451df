package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrWorkerTokenUnset is returned when WORKER_TOKEN is missing; the worker
// process must exit non-zero in that case.
var ErrWorkerTokenUnset = errors.New("WORKER_TOKEN not set")

// WorkerConfig holds the worker's environment configuration.
type WorkerConfig struct {
	BrokerURL      string
	WorkerToken    string
	WorkerID       string
	PollInterval   time.Duration
	StateDir       string
	ReposBase      string
	RepoAllowlist  string
	CmdTimeout     time.Duration
	MaxOutputBytes int
	MaxFileBytes   int
	MaxLines       int
	WorkerCaps     string
	LLMCap         string
}

// LoadWorkerFromEnv reads worker configuration with defaults. WORKER_ID
// defaults to the hostname.
func LoadWorkerFromEnv() (*WorkerConfig, error) {
	token := getEnv("WORKER_TOKEN", "")
	if token == "" {
		return nil, ErrWorkerTokenUnset
	}

	workerID := getEnv("WORKER_ID", "")
	if workerID == "" {
		if host, err := os.Hostname(); err == nil {
			workerID = host
		} else {
			workerID = "worker"
		}
	}

	return &WorkerConfig{
		BrokerURL:      strings.TrimRight(getEnv("BROKER_URL", "http://127.0.0.1:8000"), "/"),
		WorkerToken:    token,
		WorkerID:       workerID,
		PollInterval:   time.Duration(getEnvInt("POLL_INTERVAL_SEC", 10)) * time.Second,
		StateDir:       getEnv("RUNNER_STATE_DIR", "/var/lib/conveyor-runner/state"),
		ReposBase:      getEnv("RUNNER_REPOS_BASE", "/srv/repos"),
		RepoAllowlist:  getEnv("RUNNER_REPO_ALLOWLIST", "/etc/conveyor/repos.json"),
		CmdTimeout:     time.Duration(getEnvInt("RUNNER_CMD_TIMEOUT_SECONDS", 15)) * time.Second,
		MaxOutputBytes: getEnvInt("RUNNER_MAX_OUTPUT_BYTES", 20000),
		MaxFileBytes:   getEnvInt("RUNNER_MAX_FILE_BYTES", 200000),
		MaxLines:       getEnvInt("RUNNER_MAX_LINES", 400),
		WorkerCaps:     getEnv("WORKER_CAPS", ""),
		LLMCap:         getEnv("LLM_CAP", ""),
	}, nil
}

// CapsList returns the capability tags this worker advertises on claim:
// WORKER_CAPS entries, plus LLM_CAP when set, plus repo_tools always.
func (c *WorkerConfig) CapsList() []string {
	var caps []string
	for _, raw := range strings.Split(c.WorkerCaps, ",") {
		if cap := strings.TrimSpace(raw); cap != "" {
			caps = append(caps, cap)
		}
	}
	if c.LLMCap != "" && !contains(caps, c.LLMCap) {
		caps = append(caps, c.LLMCap)
	}
	if !contains(caps, "repo_tools") {
		caps = append(caps, "repo_tools")
	}
	return caps
}

// AllowlistFallback is the in-state-dir allowlist location used when the
// configured path is absent.
func (c *WorkerConfig) AllowlistFallback() string {
	return filepath.Join(c.StateDir, "repos.json")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
