package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Local runs commands as child processes of the server.
type Local struct {
	// BaseEnv is the environment every command starts from. Nil means os.Environ().
	BaseEnv []string
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Run(ctx context.Context, cmd Command) (ExecResult, error) {
	if len(cmd.Args) == 0 {
		return ExecResult{}, errors.New("empty command")
	}

	execCtx := ctx
	cancel := func() {}
	if cmd.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
	}
	defer cancel()

	c := exec.CommandContext(execCtx, cmd.Args[0], cmd.Args[1:]...)
	base := l.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	c.Env = append(append([]string(nil), base...), cmd.Env...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	started := time.Now()
	err := c.Run()
	runtime := int(time.Since(started).Milliseconds())

	if err == nil {
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0, RuntimeMs: runtime}, nil
	}
	if ctxErr := execCtx.Err(); ctxErr != nil {
		return ExecResult{}, fmt.Errorf("%s: %w", cmd.String(), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitCode(), RuntimeMs: runtime}, nil
	}
	return ExecResult{}, fmt.Errorf("start %s: %w", cmd.Args[0], err)
}
