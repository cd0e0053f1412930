package git

import (
	"context"
	"fmt"
	"strings"
)

// Runner executes external version-control commands. Implementations may
// shell out to the system binary or simulate execution for dry runs.
type Runner interface {
	Run(ctx context.Context, argv []string, opts RunOptions) (RunResult, error)
}

// RunOptions controls how a single command invocation behaves.
type RunOptions struct {
	// Check turns a non-zero exit status into a *CommandError. When false,
	// the exit status is reported through RunResult for the caller to
	// inspect.
	Check bool

	// Capture collects stdout/stderr into the RunResult instead of passing
	// them through to the process streams.
	Capture bool

	// Stdin, when non-empty, is fed to the command's standard input.
	Stdin string

	// ReadOnly marks the command as side-effect free. Read-only commands
	// are still executed under dry-run mode.
	ReadOnly bool
}

// RunResult carries the observable outcome of a command invocation.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandError wraps a command that exited non-zero while Check was requested.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("command %s exited with status %d", strings.Join(e.Argv, " "), e.ExitCode)
	if out := strings.TrimSpace(e.Stderr); out != "" {
		msg += "\n" + out
	}
	return msg
}
