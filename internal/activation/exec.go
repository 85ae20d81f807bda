package activation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/steveyegge/phoenix/internal/telemetry"
)

// stderrTail bounds how much command stderr is kept in errors.
const stderrTail = 512

// waitDelay bounds how long Wait blocks on output pipes after the process
// has been killed.
const waitDelay = 2 * time.Second

// Executor runs one external command to completion.
// Implementations must honor ctx cancellation.
type Executor interface {
	Run(ctx context.Context, dir string, argv []string) Result
}

// Result is the raw outcome of an Executor run.
type Result struct {
	// ExitCode is the process exit status, or -1 if it never exited normally.
	ExitCode int
	// Stderr holds the tail of the command's stderr.
	Stderr string
	// Err is the error from starting or waiting on the process.
	Err error
}

// ExecExecutor runs commands with os/exec in their own process group so a
// timeout kills the whole tree.
type ExecExecutor struct{}

// Run implements Executor.
func (ExecExecutor) Run(ctx context.Context, dir string, argv []string) Result {
	if len(argv) == 0 {
		return Result{ExitCode: -1, Err: errors.New("empty command")}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // G204: argv comes from settings
	cmd.Dir = dir
	if env := telemetry.CommandEnv(); env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{ExitCode: -1, Stderr: tail(stderr.String(), stderrTail), Err: err}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	return res
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// classify maps a raw Result to a kind sentinel. Timeouts are decided from
// ctx because a killed process also reports an exit error.
func classify(ctx context.Context, res Result) error {
	if res.Err == nil && res.ExitCode == 0 {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	var exitErr *exec.ExitError
	if errors.As(res.Err, &exitErr) || (res.Err == nil && res.ExitCode > 0) {
		return ErrNonZeroExit
	}
	return ErrUnreachable
}
