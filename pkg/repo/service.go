// Package repo implements the worker's read-only repository tools behind an
// allowlist safety boundary.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Config bounds the repo subsystem.
type Config struct {
	Base           string // RUNNER_REPOS_BASE, canonicalized per command
	AllowlistPath  string // RUNNER_REPO_ALLOWLIST
	FallbackPath   string // <state dir>/repos.json
	CmdTimeout     time.Duration
	MaxOutputBytes int
	MaxFileBytes   int
	MaxLines       int
}

// Service executes read-only repository commands for one worker.
type Service struct {
	cfg      Config
	workerID string
}

// NewService creates a repo service.
func NewService(cfg Config, workerID string) *Service {
	return &Service{cfg: cfg, workerID: workerID}
}

type repoEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// List enumerates allowlisted repositories that resolve inside the base and
// contain a .git directory. Entries that fail either check are skipped.
func (s *Service) List(ctx context.Context) (string, error) {
	allowlist := LoadAllowlist(s.cfg.AllowlistPath, s.cfg.FallbackPath)
	repos := make([]repoEntry, 0, len(allowlist))
	for name := range allowlist {
		path, err := s.Resolve(name)
		if err != nil {
			continue
		}
		if err := ensureGitRepo(path); err != nil {
			continue
		}
		repos = append(repos, repoEntry{Name: name, Path: path})
	}
	return s.envelope("repo_list", nil, map[string]any{"repos": repos}, false)
}

// Status reports branch, dirty flag and porcelain lines for a repo.
func (s *Service) Status(ctx context.Context, name string) (string, error) {
	path, err := s.resolveGitRepo(name)
	if err != nil {
		return "", err
	}

	out, errOut, _, err := s.runCmd(ctx, path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := firstLine(out + errOut)

	out2, errOut2, _, err := s.runCmd(ctx, path, "git", "status", "--porcelain=v1")
	if err != nil {
		return "", err
	}
	porcelain := strings.TrimSpace(out2 + errOut2)
	dirty := porcelain != ""
	porcelain, truncated := TruncateBytes(porcelain, s.cfg.MaxOutputBytes)

	data := map[string]any{"repo": name, "branch": branch, "dirty": dirty, "porcelain": porcelain}
	return s.envelope("repo_status", &name, data, truncated)
}

// LastCommit reports hash, author, date and subject of HEAD.
func (s *Service) LastCommit(ctx context.Context, name string) (string, error) {
	path, err := s.resolveGitRepo(name)
	if err != nil {
		return "", err
	}

	out, errOut, code, err := s.runCmd(ctx, path, "git", "log", "-1", "--pretty=format:%H%n%an%n%ad%n%s")
	if err != nil {
		return "", err
	}
	if code != 0 {
		msg := strings.TrimSpace(out + errOut)
		if msg == "" {
			msg = "git log failed"
		}
		return "", errors.New(msg)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	field := func(i int) string {
		if i < len(lines) {
			return lines[i]
		}
		return ""
	}
	data := map[string]any{
		"hash":    field(0),
		"author":  field(1),
		"date":    field(2),
		"subject": field(3),
	}
	return s.envelope("repo_last_commit", &name, data, false)
}

// Grep searches a repo with ripgrep when available, else git grep. Exit
// codes 0 (matches) and 1 (no matches) are both success.
func (s *Service) Grep(ctx context.Context, name, query, pathPrefix string) (string, error) {
	path, err := s.resolveGitRepo(name)
	if err != nil {
		return "", err
	}

	var argv []string
	if _, lookErr := exec.LookPath("rg"); lookErr == nil {
		argv = []string{"rg", "-n", "--no-heading", "--smart-case", query}
		if pathPrefix != "" {
			argv = append(argv, pathPrefix)
		}
	} else {
		argv = []string{"git", "grep", "-n", query, "--"}
		if pathPrefix != "" {
			argv = append(argv, pathPrefix)
		}
	}

	out, errOut, code, err := s.runCmd(ctx, path, argv...)
	if err != nil {
		return "", err
	}
	if code != 0 && code != 1 {
		msg := strings.TrimSpace(out + errOut)
		if msg == "" {
			msg = "search failed"
		}
		return "", errors.New(msg)
	}

	matches, truncated := TruncateBytes(strings.TrimSpace(out), s.cfg.MaxOutputBytes)
	return s.envelope("repo_grep", &name, map[string]any{"matches": matches}, truncated)
}

// ReadFile returns a validated, line-bounded slice of a file within a repo.
// The path must be relative with no parent components; the canonical joined
// path must stay under the repo root; size and line-range limits apply. An
// end past EOF is clamped.
func (s *Service) ReadFile(ctx context.Context, name, relPath string, start, end int) (string, error) {
	if filepath.IsAbs(relPath) || hasParentComponent(relPath) {
		return "", errors.New("path must be relative and not contain ..")
	}
	path, err := s.resolveGitRepo(name)
	if err != nil {
		return "", err
	}
	if start < 1 {
		return "", errors.New("start must be >= 1")
	}
	if end < start {
		return "", errors.New("end must be >= start")
	}
	if end-start+1 > s.cfg.MaxLines {
		return "", fmt.Errorf("line range exceeds RUNNER_MAX_LINES (%d)", s.cfg.MaxLines)
	}

	joined := filepath.Join(path, relPath)
	realAbs, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", errors.New("not a file or not found")
	}
	realRepo, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize repo root: %w", err)
	}
	if realAbs != realRepo && !strings.HasPrefix(realAbs, realRepo+string(filepath.Separator)) {
		return "", errors.New("path outside repo")
	}

	info, err := os.Stat(realAbs)
	if err != nil || !info.Mode().IsRegular() {
		return "", errors.New("not a file or not found")
	}
	if info.Size() > int64(s.cfg.MaxFileBytes) {
		return "", fmt.Errorf("file exceeds RUNNER_MAX_FILE_BYTES (%d)", s.cfg.MaxFileBytes)
	}

	raw, err := os.ReadFile(realAbs)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	// invalid encoding is replaced, not raised
	text := strings.ToValidUTF8(string(raw), "�")
	lines := strings.SplitAfter(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	maxLine := len(lines)
	start1 := start
	if start1 > maxLine {
		start1 = maxLine
	}
	if start1 < 1 {
		start1 = 1
	}
	end1 := end
	if end1 > maxLine {
		end1 = maxLine
	}
	if end1 < start1 {
		end1 = start1
	}
	var content string
	truncated := false
	if maxLine > 0 {
		slice := lines[start1-1 : end1]
		if len(slice) > s.cfg.MaxLines {
			slice = slice[:s.cfg.MaxLines]
			truncated = true
		}
		content = strings.Join(slice, "")
	}

	data := map[string]any{"path": relPath, "start": start1, "end": end1, "content": content}
	return s.envelope("repo_readfile", &name, data, truncated)
}

func (s *Service) resolveGitRepo(name string) (string, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := ensureGitRepo(path); err != nil {
		return "", err
	}
	return path, nil
}

// hasParentComponent reports whether the cleaned path contains a ".." segment.
func hasParentComponent(relPath string) bool {
	for _, part := range strings.Split(filepath.Clean(relPath), string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
