package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoMergeBase indicates HEAD and the upstream target share no common
// ancestor. Disjoint histories are fatal and never retried.
var ErrNoMergeBase = errors.New("git: no merge base between HEAD and the upstream target")

// CommitDetails holds the human-authored message of a commit.
type CommitDetails struct {
	Title string
	Body  string
}

// CommitStack returns the commits unique to HEAD relative to
// upstreamRemote/base, oldest first. The result is only valid for the
// history it was computed against: any rebase invalidates the commit ids and
// the stack must be resolved again.
func (r *shellRepo) CommitStack(ctx context.Context, upstreamRemote, base string) ([]string, error) {
	mergeBase, err := r.mergeBase(ctx, upstreamRemote, base)
	if err != nil {
		return nil, err
	}

	res, err := r.runner.Run(ctx, []string{"git", "rev-list", "--reverse", mergeBase + "..HEAD"}, RunOptions{
		Check:    true,
		Capture:  true,
		ReadOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list commit stack: %w", err)
	}

	var commits []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if sha := strings.TrimSpace(line); sha != "" {
			commits = append(commits, sha)
		}
	}
	return commits, nil
}

func (r *shellRepo) mergeBase(ctx context.Context, upstreamRemote, base string) (string, error) {
	target := fmt.Sprintf("%s/%s", upstreamRemote, base)
	res, err := r.runner.Run(ctx, []string{"git", "merge-base", "HEAD", target}, RunOptions{
		Capture:  true,
		ReadOnly: true,
	})
	if err != nil {
		return "", fmt.Errorf("git merge-base HEAD %s: %w", target, err)
	}

	mergeBase := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 || mergeBase == "" {
		return "", fmt.Errorf("%w: %s", ErrNoMergeBase, target)
	}
	return mergeBase, nil
}

// CommitDetails fetches the title and body of a single commit.
func (r *shellRepo) CommitDetails(ctx context.Context, sha string) (CommitDetails, error) {
	res, err := r.runner.Run(ctx, []string{"git", "show", "-s", "--format=%s%n%n%b", sha}, RunOptions{
		Check:    true,
		Capture:  true,
		ReadOnly: true,
	})
	if err != nil {
		return CommitDetails{}, fmt.Errorf("show commit %s: %w", sha, err)
	}

	parts := strings.SplitN(strings.TrimSpace(res.Stdout), "\n\n", 2)
	details := CommitDetails{Title: parts[0]}
	if len(parts) > 1 {
		details.Body = parts[1]
	}
	return details, nil
}
