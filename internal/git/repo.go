package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrDirtyWorkTree indicates uncommitted or unstaged local changes.
var ErrDirtyWorkTree = errors.New("git: working tree is dirty, stash or commit your changes")

// RebaseConflictError wraps a rebase that stopped on conflicts. The
// in-progress rebase has already been aborted (best effort) by the time this
// error is returned.
type RebaseConflictError struct {
	Target string
	Err    error
}

func (e *RebaseConflictError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("git: rebase onto %s failed, likely due to a merge conflict: %v", e.Target, e.Err)
}

func (e *RebaseConflictError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Repo exposes the local repository primitives required by the orchestrator.
type Repo interface {
	CurrentBranch(ctx context.Context) (string, error)
	IsInsideWorkTree(ctx context.Context) (bool, error)
	RemoteSlug(ctx context.Context, remote string) (owner, name string, err error)
	EnsureCleanWorkTree(ctx context.Context) error
	FetchAndRebase(ctx context.Context, upstreamRemote, base string) error
	CommitStack(ctx context.Context, upstreamRemote, base string) ([]string, error)
	CommitDetails(ctx context.Context, sha string) (CommitDetails, error)
	PushCommit(ctx context.Context, remote, sha, branch string) error
	Checkout(ctx context.Context, branch string) error
	DeleteLocalBranches(ctx context.Context, branches []string) error
}

// NewRepo returns a Repo that issues git commands through the supplied Runner.
func NewRepo(runner Runner, log *slog.Logger) Repo {
	return &shellRepo{runner: runner, log: log}
}

type shellRepo struct {
	runner Runner
	log    *slog.Logger
}

var remoteSlugPattern = regexp.MustCompile(`github\.com[/:]([\w.-]+)/([\w.-]+?)(?:\.git)?$`)

func (r *shellRepo) CurrentBranch(ctx context.Context) (string, error) {
	res, err := r.runner.Run(ctx, []string{"git", "rev-parse", "--abbrev-ref", "HEAD"}, RunOptions{
		Check:    true,
		Capture:  true,
		ReadOnly: true,
	})
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (r *shellRepo) IsInsideWorkTree(ctx context.Context) (bool, error) {
	res, err := r.runner.Run(ctx, []string{"git", "rev-parse", "--is-inside-work-tree"}, RunOptions{
		Capture:  true,
		ReadOnly: true,
	})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0 && strings.TrimSpace(res.Stdout) == "true", nil
}

func (r *shellRepo) RemoteSlug(ctx context.Context, remote string) (string, string, error) {
	res, err := r.runner.Run(ctx, []string{"git", "remote", "get-url", remote}, RunOptions{
		Check:    true,
		Capture:  true,
		ReadOnly: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("get url for remote %q: %w", remote, err)
	}

	url := strings.TrimSpace(res.Stdout)
	match := remoteSlugPattern.FindStringSubmatch(url)
	if match == nil {
		return "", "", fmt.Errorf("could not parse repository slug from remote url %q", url)
	}
	return match[1], match[2], nil
}

func (r *shellRepo) EnsureCleanWorkTree(ctx context.Context) error {
	res, err := r.runner.Run(ctx, []string{"git", "status", "--porcelain"}, RunOptions{
		Check:    true,
		Capture:  true,
		ReadOnly: true,
	})
	if err != nil {
		return fmt.Errorf("check working tree: %w", err)
	}
	if strings.TrimSpace(res.Stdout) != "" {
		return ErrDirtyWorkTree
	}
	return nil
}

func (r *shellRepo) FetchAndRebase(ctx context.Context, upstreamRemote, base string) error {
	target := fmt.Sprintf("%s/%s", upstreamRemote, base)
	if r.log != nil {
		r.log.Info("fetching and rebasing onto upstream base", "target", target)
	}

	if _, err := r.runner.Run(ctx, []string{"git", "fetch", upstreamRemote, base}, RunOptions{
		Check:   true,
		Capture: true,
	}); err != nil {
		return fmt.Errorf("git fetch %s %s: %w", upstreamRemote, base, err)
	}

	if _, err := r.runner.Run(ctx, []string{"git", "rebase", target}, RunOptions{
		Check:   true,
		Capture: true,
	}); err != nil {
		r.abortRebaseInProgress(ctx)
		return &RebaseConflictError{Target: target, Err: err}
	}
	return nil
}

// abortRebaseInProgress leaves the working tree rebase-free before a rebase
// failure propagates. Failures here are logged, never returned: the original
// conflict is the error that matters.
func (r *shellRepo) abortRebaseInProgress(ctx context.Context) {
	probe, err := r.runner.Run(ctx, []string{"git", "rev-parse", "--verify", "REBASE_HEAD"}, RunOptions{
		Capture:  true,
		ReadOnly: true,
	})
	if err != nil || probe.ExitCode != 0 {
		return
	}
	if r.log != nil {
		r.log.Warn("aborting in-progress rebase")
	}
	if _, err := r.runner.Run(ctx, []string{"git", "rebase", "--abort"}, RunOptions{Capture: true}); err != nil && r.log != nil {
		r.log.Warn("failed to abort rebase", "error", err)
	}
}

func (r *shellRepo) PushCommit(ctx context.Context, remote, sha, branch string) error {
	refspec := fmt.Sprintf("%s:refs/heads/%s", sha, branch)
	if _, err := r.runner.Run(ctx, []string{"git", "push", remote, refspec}, RunOptions{
		Check:   true,
		Capture: true,
	}); err != nil {
		return fmt.Errorf("git push %s %s: %w", remote, refspec, err)
	}
	return nil
}

func (r *shellRepo) Checkout(ctx context.Context, branch string) error {
	if _, err := r.runner.Run(ctx, []string{"git", "checkout", branch}, RunOptions{
		Check:   true,
		Capture: true,
	}); err != nil {
		return fmt.Errorf("git checkout %s: %w", branch, err)
	}
	return nil
}

func (r *shellRepo) DeleteLocalBranches(ctx context.Context, branches []string) error {
	if len(branches) == 0 {
		return nil
	}
	// Check is deliberately off: branches published by direct ref push never
	// existed locally, and cleanup must tolerate already-deleted refs.
	argv := append([]string{"git", "branch", "-D"}, branches...)
	if _, err := r.runner.Run(ctx, argv, RunOptions{Capture: true}); err != nil {
		return fmt.Errorf("git branch -D: %w", err)
	}
	return nil
}
