package app

import (
	"fmt"
	"strings"

	"github.com/prstack/prstack/internal/orchestrator"
)

func (r *Runner) writeReport(result orchestrator.Result) error {
	if r.out == nil {
		return nil
	}
	_, err := fmt.Fprint(r.out, renderReport(r.cfg, result))
	return err
}

// renderReport produces the human-readable run summary, one line per commit
// in landing order.
func renderReport(cfg Config, result orchestrator.Result) string {
	var b strings.Builder

	if cfg.DryRun {
		b.WriteString("Dry run: no branches were pushed and no pull requests were created.\n")
	}

	if len(result.Commits) == 0 {
		b.WriteString("No new commits to land.\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("Processed %d commit(s):\n", len(result.Commits)))
	for i, commit := range result.Commits {
		b.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, statusLabel(commit.Status), commit.Title))
		b.WriteString(fmt.Sprintf("     branch: %s\n", commit.Branch))
		if commit.PRURL != "" {
			b.WriteString(fmt.Sprintf("     pull request: %s\n", commit.PRURL))
		}
	}

	return b.String()
}

func statusLabel(status orchestrator.CommitStatus) string {
	switch status {
	case orchestrator.StatusLanded:
		return "landed"
	case orchestrator.StatusDeferred:
		return "open, merge deferred"
	case orchestrator.StatusAutoMerge:
		return "auto-merge enabled"
	case orchestrator.StatusDryRun:
		return "dry run"
	default:
		return string(status)
	}
}
