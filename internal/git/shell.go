package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ShellRunner executes commands through the operating system. Context
// cancellation terminates the whole process group so stray git subprocesses
// do not outlive the run.
type ShellRunner struct {
	// Log, when set, records every invocation at debug level.
	Log *slog.Logger
}

// NewShellRunner returns a Runner backed by os/exec.
func NewShellRunner(log *slog.Logger) *ShellRunner {
	return &ShellRunner{Log: log}
}

func (r *ShellRunner) Run(ctx context.Context, argv []string, opts RunOptions) (RunResult, error) {
	if len(argv) == 0 {
		return RunResult{}, fmt.Errorf("empty command")
	}

	if r.Log != nil {
		r.Log.Debug("running command", "argv", strings.Join(argv, " "))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	setProcessGroup(cmd)

	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	if opts.Capture {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return RunResult{}, fmt.Errorf("command %q not found, is it installed and in your PATH?: %w", argv[0], err)
		}
		return RunResult{}, fmt.Errorf("start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		terminateProcessGroup(cmd)
		<-done
		return RunResult{}, ctx.Err()
	case waitErr = <-done:
	}

	result := RunResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RunResult{}, ctxErr
		}
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return RunResult{}, fmt.Errorf("run %s: %w", argv[0], waitErr)
		}
		if opts.Check {
			return result, &CommandError{
				Argv:     argv,
				ExitCode: result.ExitCode,
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
			}
		}
	}

	return result, nil
}
