package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prstack/prstack/internal/git"
	gh "github.com/prstack/prstack/internal/github"
	"github.com/prstack/prstack/internal/orchestrator"
)

// Runner glues together the orchestrator and supporting services to execute
// one landing run.
type Runner struct {
	cfg Config
	log *slog.Logger
	out io.Writer

	// ghClient and repo are only set for testing via NewRunnerWithDeps.
	ghClient gh.Client
	repo     git.Repo
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(cfg Config) (*Runner, error) {
	logger, err := NewLogger(cfg.LogLevel(), cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &Runner{cfg: cfg, log: logger, out: os.Stdout}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, out io.Writer, ghClient gh.Client, repo git.Repo) *Runner {
	return &Runner{cfg: cfg, log: log, out: out, ghClient: ghClient, repo: repo}
}

// Run executes the application using the provided context.
func (r *Runner) Run(ctx context.Context) error {
	if r.log != nil {
		r.log.Info("starting run", "base", r.cfg.BaseBranch, "remote", r.cfg.ForkRemote, "upstream", r.cfg.UpstreamRemote, "dry_run", r.cfg.DryRun)
	}

	repo := r.repo
	if repo == nil {
		built, err := r.buildRepo(ctx)
		if err != nil {
			return err
		}
		repo = built
	}

	ghClient := r.ghClient
	if ghClient == nil {
		built, err := r.buildGitHubClient(ctx, repo)
		if err != nil {
			return err
		}
		ghClient = built
	}

	prefix, err := r.resolvePrefix(ctx, ghClient)
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Config{
		BaseBranch:     r.cfg.BaseBranch,
		UpstreamRemote: r.cfg.UpstreamRemote,
		ForkRemote:     r.cfg.ForkRemote,
		Prefix:         prefix,
		Draft:          r.cfg.Draft,
		NoMerge:        r.cfg.NoMerge,
		AutoMerge:      r.cfg.AutoMerge,
		DryRun:         r.cfg.DryRun,
	}, ghClient, repo, r.log)

	result, err := orch.Run(ctx)

	// The report covers whatever landed before a failure, so render it on
	// both paths.
	if writeErr := r.writeReport(result); writeErr != nil && r.log != nil {
		r.log.Warn("failed to write run report", "error", writeErr)
	}

	return err
}

// buildRepo wires the git layer and verifies its preconditions: a usable git
// binary and a working tree to operate in.
func (r *Runner) buildRepo(ctx context.Context) (git.Repo, error) {
	var runner git.Runner = git.NewShellRunner(r.log)
	if r.cfg.DryRun {
		runner = git.NewDryRunner(runner, r.log)
	}

	if _, err := runner.Run(ctx, []string{"git", "--version"}, git.RunOptions{
		Check:    true,
		Capture:  true,
		ReadOnly: true,
	}); err != nil {
		return nil, fmt.Errorf("check git installation: %w", err)
	}

	repo := git.NewRepo(runner, r.log)

	inside, err := repo.IsInsideWorkTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("check working tree: %w", err)
	}
	if !inside {
		return nil, fmt.Errorf("not inside a git working tree")
	}

	return repo, nil
}

func (r *Runner) buildGitHubClient(ctx context.Context, repo git.Repo) (gh.Client, error) {
	if r.cfg.DryRun {
		return gh.NewSimulatedClient(r.log, gh.RepoSettings{DefaultBranch: r.cfg.BaseBranch}), nil
	}

	owner, name, err := repo.RemoteSlug(ctx, r.cfg.UpstreamRemote)
	if err != nil {
		return nil, fmt.Errorf("resolve upstream repository: %w", err)
	}

	// Branches are pushed to the fork remote, so the client must know that
	// repository too: pull requests target upstream, head refs live in the
	// fork.
	headOwner, headName := owner, name
	if r.cfg.ForkRemote != r.cfg.UpstreamRemote {
		headOwner, headName, err = repo.RemoteSlug(ctx, r.cfg.ForkRemote)
		if err != nil {
			return nil, fmt.Errorf("resolve fork repository: %w", err)
		}
	}

	client, err := gh.NewRESTClient(ctx, gh.ClientOptions{
		Token:     r.cfg.GitHubToken,
		Owner:     owner,
		Repo:      name,
		HeadOwner: headOwner,
		HeadRepo:  headName,
		BaseURL:   r.cfg.GitHubBaseURL,
		UploadURL: r.cfg.GitHubUploadURL,
		Logger:    r.log,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize github client: %w", err)
	}
	return client, nil
}

// resolvePrefix defaults the branch prefix to the authenticated user's login.
func (r *Runner) resolvePrefix(ctx context.Context, ghClient gh.Client) (string, error) {
	if r.cfg.Prefix != "" {
		return r.cfg.Prefix, nil
	}
	login, err := ghClient.GetUserLogin(ctx)
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	return login + "/", nil
}
