package client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

const (
	maxStderrBytes = 8 * 1024
	maxStdoutBytes = 64 * 1024
	// waitDelay bounds how long Wait blocks on pipes after the process is killed.
	waitDelay = 5 * time.Second
)

// RunResult is the outcome of one subprocess invocation.
type RunResult struct {
	ExitCode    int
	Stdout      string
	Diagnostics string
	Duration    time.Duration
}

// CommandRunner runs an external program. A non-zero exit is reported through
// RunResult.ExitCode, not as an error; the error is reserved for failures to
// start the process and for context expiry.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (*RunResult, error)
}

// ExecCommandRunner is the os/exec implementation. The process is killed when
// ctx is done.
type ExecCommandRunner struct {
	Logger *slog.Logger
}

func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) (*RunResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: maxStdoutBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	if r.Logger != nil {
		r.Logger.Debug("executing command", "cmd", name, "args", args)
	}

	err := cmd.Run()
	res := &RunResult{
		Stdout:      stdoutBuf.String(),
		Diagnostics: stderrBuf.String(),
		Duration:    time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			return res, err
		}
	}

	if res.ExitCode != 0 && r.Logger != nil {
		r.Logger.Warn("command failed",
			"cmd", name,
			"exit_code", res.ExitCode,
			"duration_ms", res.Duration.Milliseconds(),
			"stderr_tail", tail(res.Diagnostics, 512),
		)
	}
	return res, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		keep := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(keep)
	}
	return n, nil
}
