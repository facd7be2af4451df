package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors surfaced to job failure messages.
var (
	ErrNotAllowlisted = errors.New("repo not allowlisted")
	ErrOutsideBase    = errors.New("repo path outside RUNNER_REPOS_BASE")
	ErrNotGitRepo     = errors.New("not a git repo")
)

// LoadAllowlist reads the repo allowlist JSON map (name → path-spec) from the
// first readable candidate path. The file is read fresh on every command; a
// missing or malformed file yields an empty map.
func LoadAllowlist(paths ...string) map[string]string {
	for _, path := range paths {
		if path == "" {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entries map[string]string
		if err := json.Unmarshal(raw, &entries); err != nil {
			continue
		}
		return entries
	}
	return map[string]string{}
}

// Resolve maps an allowlisted repo name to its canonical absolute path.
// The result must be the canonical base directory itself or lie strictly
// under it; symlinks are followed before the containment check.
func (s *Service) Resolve(name string) (string, error) {
	allowlist := LoadAllowlist(s.cfg.AllowlistPath, s.cfg.FallbackPath)
	spec, ok := allowlist[name]
	if !ok {
		return "", ErrNotAllowlisted
	}
	spec = strings.TrimSpace(spec)

	baseReal, err := filepath.EvalSymlinks(s.cfg.Base)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize repos base: %w", err)
	}

	candidate := spec
	if !filepath.IsAbs(spec) {
		candidate = filepath.Join(s.cfg.Base, spec)
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repo path: %w", err)
	}
	if resolved != baseReal && !strings.HasPrefix(resolved, baseReal+string(filepath.Separator)) {
		return "", ErrOutsideBase
	}
	return resolved, nil
}

// ensureGitRepo verifies the path contains a .git directory.
func ensureGitRepo(repoPath string) error {
	info, err := os.Stat(filepath.Join(repoPath, ".git"))
	if err != nil || !info.IsDir() {
		return ErrNotGitRepo
	}
	return nil
}
