package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prstack/prstack/internal/git"
	gh "github.com/prstack/prstack/internal/github"
)

// Orchestrator drives the sequential landing loop: publish one commit as a
// branch, open a pull request, merge (or defer), rebase, re-resolve the
// remaining stack, repeat. It owns the local working tree for the duration
// of one Run and restores the original branch on every exit path.
type Orchestrator struct {
	cfg Config
	gh  gh.Client
	git git.Repo
	log *slog.Logger
}

// CommitStatus describes the terminal state of one commit in the stack.
type CommitStatus string

const (
	// StatusLanded means the pull request was merged and its branch
	// confirmed gone.
	StatusLanded CommitStatus = "landed"

	// StatusDeferred means the pull request was left open (no-merge mode);
	// the branch now belongs to the caller.
	StatusDeferred CommitStatus = "deferred"

	// StatusAutoMerge means auto-merge was armed; GitHub lands the pull
	// request asynchronously once its conditions pass.
	StatusAutoMerge CommitStatus = "auto_merge"

	// StatusDryRun means the commit was rehearsed without side effects.
	StatusDryRun CommitStatus = "dry_run"
)

// CommitResult records the outcome for a single commit.
type CommitResult struct {
	SHA    string
	Title  string
	Branch string
	PRURL  string
	Status CommitStatus
}

// Result captures the outcome of a single orchestrator run. Commits appear
// in landing order.
type Result struct {
	OriginalBranch string
	Commits        []CommitResult
}

// New returns a configured Orchestrator. One instance serves exactly one Run.
func New(cfg Config, ghClient gh.Client, repo git.Repo, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, gh: ghClient, git: repo, log: logger}
}

// session is the mutable state of one run. Tracked branches are deleted at
// cleanup unless they landed (untracked) or were handed off to an open pull
// request (deferred).
type session struct {
	originalBranch string
	settings       gh.RepoSettings
	created        []trackedBranch
}

type trackedBranch struct {
	name     string
	deferred bool
}

func (s *session) track(name string) {
	s.created = append(s.created, trackedBranch{name: name})
}

func (s *session) untrack(name string) {
	for i, b := range s.created {
		if b.name == name {
			s.created = append(s.created[:i], s.created[i+1:]...)
			return
		}
	}
}

func (s *session) markDeferred(name string) {
	for i := range s.created {
		if s.created[i].name == name {
			s.created[i].deferred = true
			return
		}
	}
}

// pending returns the branches cleanup must delete, in creation order.
func (s *session) pending() []string {
	var names []string
	for _, b := range s.created {
		if !b.deferred {
			names = append(names, b.name)
		}
	}
	return names
}

// Run executes the landing loop to completion or first fatal error. Cleanup
// (checkout of the original branch, deletion of unlanded ephemeral branches)
// runs on every path out.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if err := o.cfg.Validate(); err != nil {
		return Result{}, err
	}

	originalBranch, err := o.git.CurrentBranch(ctx)
	if err != nil {
		return Result{}, err
	}
	if o.log != nil {
		o.log.Info("starting landing run", "branch", originalBranch, "base", o.cfg.BaseBranch, "dry_run", o.cfg.DryRun)
	}

	sess := &session{originalBranch: originalBranch}
	result := Result{OriginalBranch: originalBranch}

	defer o.cleanup(ctx, sess)

	if err := o.land(ctx, sess, &result); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) land(ctx context.Context, sess *session, result *Result) error {
	settings, err := o.gh.GetRepoSettings(ctx)
	if err != nil {
		return err
	}
	sess.settings = settings

	if err := o.git.EnsureCleanWorkTree(ctx); err != nil {
		return err
	}
	if err := o.git.FetchAndRebase(ctx, o.cfg.UpstreamRemote, o.cfg.BaseBranch); err != nil {
		return err
	}

	initial, err := o.git.CommitStack(ctx, o.cfg.UpstreamRemote, o.cfg.BaseBranch)
	if err != nil {
		return err
	}
	if len(initial) == 0 {
		if o.log != nil {
			o.log.Info("no new commits to process")
		}
		return nil
	}
	if err := o.cfg.ValidateStackSize(len(initial)); err != nil {
		return err
	}

	branchBaseName, err := o.branchBaseName(ctx, sess, initial[0])
	if err != nil {
		return err
	}

	if o.log != nil {
		o.log.Info("resolved commit stack", "commits", len(initial), "branch_base", branchBaseName)
	}

	// The iteration count is fixed by the initial stack; the commit
	// identities are not, because each landing rebases local history.
	for i := range initial {
		sha, done, err := o.nextCommit(ctx, initial, i)
		if err != nil {
			return err
		}
		if done {
			if o.log != nil {
				o.log.Info("remaining commits already landed upstream")
			}
			return nil
		}

		record, err := o.processCommit(ctx, sess, sha, branchBaseName, i)
		if err != nil {
			return err
		}
		result.Commits = append(result.Commits, record)
	}

	return nil
}

// nextCommit picks the commit for iteration i: always the first commit of a
// freshly resolved stack, never an index into a stale one. Dry runs never
// land anything, so they walk the initial stack directly instead.
func (o *Orchestrator) nextCommit(ctx context.Context, initial []string, i int) (string, bool, error) {
	if o.cfg.DryRun {
		return initial[i], false, nil
	}

	if i > 0 {
		if err := o.git.FetchAndRebase(ctx, o.cfg.UpstreamRemote, o.cfg.BaseBranch); err != nil {
			return "", false, err
		}
	}

	stack, err := o.git.CommitStack(ctx, o.cfg.UpstreamRemote, o.cfg.BaseBranch)
	if err != nil {
		return "", false, err
	}
	if len(stack) == 0 {
		return "", true, nil
	}
	return stack[0], false, nil
}

func (o *Orchestrator) branchBaseName(ctx context.Context, sess *session, firstCommit string) (string, error) {
	// On the integration branch itself there is no feature-branch name worth
	// reusing; derive one from the first commit instead.
	if sess.originalBranch != sess.settings.DefaultBranch {
		return sess.originalBranch, nil
	}
	details, err := o.git.CommitDetails(ctx, firstCommit)
	if err != nil {
		return "", err
	}
	return SanitizeBranchToken(details.Title), nil
}

func (o *Orchestrator) processCommit(ctx context.Context, sess *session, sha, branchBaseName string, i int) (CommitResult, error) {
	details, err := o.git.CommitDetails(ctx, sha)
	if err != nil {
		return CommitResult{}, err
	}

	branchName := BranchNameFor(o.cfg.Prefix, branchBaseName, i)
	if o.log != nil {
		o.log.Info("processing commit", "commit", shortSHA(sha), "title", details.Title, "branch", branchName)
	}

	if err := o.git.PushCommit(ctx, o.cfg.ForkRemote, sha, branchName); err != nil {
		return CommitResult{}, fmt.Errorf("publish branch %s: %w", branchName, err)
	}
	sess.track(branchName)

	pr, err := o.gh.CreatePullRequest(ctx, gh.NewPullRequest{
		Head:  branchName,
		Base:  o.cfg.BaseBranch,
		Title: details.Title,
		Body:  details.Body,
		Draft: o.cfg.Draft,
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("create pull request for %s: %w", branchName, err)
	}

	record := CommitResult{
		SHA:    sha,
		Title:  details.Title,
		Branch: branchName,
		PRURL:  pr.URL,
	}

	switch {
	case o.cfg.NoMerge:
		// The open pull request owns the branch now; deleting it at cleanup
		// would close the PR.
		sess.markDeferred(branchName)
		record.Status = StatusDeferred

	case o.cfg.AutoMerge:
		if err := o.gh.EnableAutoMerge(ctx, pr); err != nil {
			return CommitResult{}, err
		}
		sess.markDeferred(branchName)
		record.Status = StatusAutoMerge

	default:
		headRef, err := o.gh.MergePullRequest(ctx, pr, details.Title, details.Body)
		if err != nil {
			return CommitResult{}, err
		}
		if headRef == "" {
			headRef = branchName
		}
		// Skip the explicit delete when the repository auto-deletes merged
		// branches, to avoid racing GitHub's own deletion.
		if !sess.settings.DeleteBranchOnMerge {
			if err := o.gh.DeleteBranch(ctx, headRef, sess.settings.DefaultBranch); err != nil {
				return CommitResult{}, err
			}
		}
		sess.untrack(branchName)
		record.Status = StatusLanded
	}

	if o.cfg.DryRun {
		record.Status = StatusDryRun
	}
	return record, nil
}

// cleanup restores the original checkout and removes every published branch
// that neither landed nor was handed off to an open pull request. It runs on
// success and failure alike; its own failures are logged, never returned.
func (o *Orchestrator) cleanup(ctx context.Context, sess *session) {
	if sess.originalBranch != "" {
		if o.log != nil {
			o.log.Info("returning to original branch", "branch", sess.originalBranch)
		}
		if err := o.git.Checkout(ctx, sess.originalBranch); err != nil && o.log != nil {
			o.log.Warn("failed to checkout original branch", "branch", sess.originalBranch, "error", err)
		}
	}

	leftover := sess.pending()
	if len(leftover) == 0 {
		return
	}

	if o.log != nil {
		o.log.Info("cleaning up temporary branches", "count", len(leftover))
	}
	if err := o.git.DeleteLocalBranches(ctx, leftover); err != nil && o.log != nil {
		o.log.Warn("failed to delete local branches", "error", err)
	}
	for _, branch := range leftover {
		if err := o.gh.DeleteBranch(ctx, branch, sess.settings.DefaultBranch); err != nil && o.log != nil {
			o.log.Warn("failed to delete remote branch", "branch", branch, "error", err)
		}
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
