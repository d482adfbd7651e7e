// Package runner executes platform CLI commands locally or on a bastion host over SSH.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	RuntimeMs int
}

// Command is an argv invocation. Args[0] is the program.
type Command struct {
	Args    []string
	Env     []string
	Timeout time.Duration
}

// String renders the argv without the environment, which may carry credentials.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

type Executor interface {
	Run(ctx context.Context, cmd Command) (ExecResult, error)
}

// ExitError reports a command that ran to completion with a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, msg)
}

// CheckExit turns a non-zero exit status into an *ExitError.
func CheckExit(cmd Command, res ExecResult) error {
	if res.ExitCode == 0 {
		return nil
	}
	return &ExitError{Command: cmd.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// RunChecked runs cmd and fails on a non-zero exit status.
func RunChecked(ctx context.Context, e Executor, cmd Command) (ExecResult, error) {
	res, err := e.Run(ctx, cmd)
	if err != nil {
		return ExecResult{}, err
	}
	if err := CheckExit(cmd, res); err != nil {
		return res, err
	}
	return res, nil
}
