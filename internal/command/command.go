// Package command runs the external tools the imaging pipeline is built on.
//
// A Runner reports a non-zero exit status through Result.ExitCode rather than as an
// error, because several tools (ktcheck in particular) use exit codes to signal
// non-fatal conditions. An error is returned only when the process could not be run.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/cochaviz/automagic/internal/logging"
)

// Cmd describes a single process invocation.
type Cmd struct {
	Name string
	Args []string
	// Output receives both stdout and stderr when set. When nil, they are captured
	// into the Result instead.
	Output io.Writer
}

// String renders the command line for logging.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the process exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// ExecRunner runs commands on the host with os/exec.
type ExecRunner struct {
	Logger *slog.Logger
}

// Run starts the process and waits for it to exit.
func (r ExecRunner) Run(ctx context.Context, c Cmd) (Result, error) {
	if c.Name == "" {
		return Result{}, errors.New("no command provided")
	}

	logging.Ensure(r.Logger).Debug("running command", "command", c.String())

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	var stdout, stderr bytes.Buffer
	if c.Output != nil {
		cmd.Stdout = c.Output
		cmd.Stderr = c.Output
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s interrupted: %w", c.Name, ctxErr)
	}
	return result, fmt.Errorf("run %s: %w", c.Name, err)
}

// Output runs cmd and returns its trimmed stdout, failing on a non-zero exit.
func Output(ctx context.Context, runner Runner, c Cmd) (string, error) {
	result, err := runner.Run(ctx, c)
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", fmt.Errorf("%s exited with status %d: %s", c.Name, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}
