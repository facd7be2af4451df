package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// runCmd executes argv (never a shell) in dir under the configured timeout.
// Returns stdout, stderr and the exit code; a timeout is an error.
func (s *Service) runCmd(ctx context.Context, dir string, argv ...string) (string, string, int, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, s.cfg.CmdTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return "", "", -1, fmt.Errorf("command timed out after %s", s.cfg.CmdTimeout)
	}
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			return "", "", -1, fmt.Errorf("failed to run %s: %w", argv[0], err)
		}
	}
	return stdout.String(), stderr.String(), code, nil
}
