package git

import (
	"context"
	"log/slog"
	"strings"
)

// DryRunner suppresses every mutating command, logging what would have run
// and returning a synthetic zero-exit result. Commands marked ReadOnly are
// delegated to the wrapped Runner so a dry run can still inspect history.
type DryRunner struct {
	Next Runner
	Log  *slog.Logger
}

// NewDryRunner wraps next in a dry-run gate.
func NewDryRunner(next Runner, log *slog.Logger) *DryRunner {
	return &DryRunner{Next: next, Log: log}
}

func (r *DryRunner) Run(ctx context.Context, argv []string, opts RunOptions) (RunResult, error) {
	if opts.ReadOnly {
		return r.Next.Run(ctx, argv, opts)
	}
	if r.Log != nil {
		r.Log.Info("[dry-run] would run", "argv", strings.Join(argv, " "))
	}
	return RunResult{}, nil
}
