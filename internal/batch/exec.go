package batch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"pacer/internal/config"
	"pacer/pkg/pacer"
)

// maxDetail bounds how much command output is kept in a Result.
const maxDetail = 512

func execTask(ctx context.Context, name string, d config.TaskConfig, timeout time.Duration) pacer.Task[Result] {
	command := strings.TrimSpace(d.Command)
	args := append([]string(nil), d.Args...)

	return func() (Result, error) {
		res := Result{Name: name, Kind: config.KindExec}

		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(cctx, command, args...)
		if d.Dir != "" {
			cmd.Dir = d.Dir
		}
		// Children that inherit the output pipe must not hold Wait past the kill.
		cmd.WaitDelay = time.Second
		out, err := cmd.CombinedOutput()
		res.Detail = tail(strings.TrimSpace(string(out)), maxDetail)
		res.Bytes = int64(len(out))
		if cmd.ProcessState != nil {
			res.Status = cmd.ProcessState.ExitCode()
		}
		if err != nil {
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return res, fmt.Errorf("%s: timed out after %s", command, timeout)
			}
			return res, fmt.Errorf("%s: %w", command, err)
		}
		return res, nil
	}
}

// tail keeps the last n bytes of s, where errors usually are.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
