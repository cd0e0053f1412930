package gh

import (
	"context"
	"fmt"
	"log/slog"
)

// NewSimulatedClient returns a Client that performs no remote calls. Every
// operation is logged as a hypothetical action and answered with a synthetic
// result, so a dry run rehearses the full landing plan in order. The supplied
// settings stand in for the real repository's: a dry run has no token to
// fetch them, and DeleteBranchOnMerge decides whether the rehearsal shows an
// explicit branch-delete step.
func NewSimulatedClient(log *slog.Logger, settings RepoSettings) Client {
	return &simulatedClient{log: log, settings: settings}
}

type simulatedClient struct {
	log        *slog.Logger
	settings   RepoSettings
	nextNumber int
}

func (c *simulatedClient) GetUserLogin(ctx context.Context) (string, error) {
	return "dry-run-user", nil
}

func (c *simulatedClient) GetRepoSettings(ctx context.Context) (RepoSettings, error) {
	return c.settings, nil
}

func (c *simulatedClient) CreatePullRequest(ctx context.Context, input NewPullRequest) (PullRequest, error) {
	c.nextNumber++
	pr := PullRequest{
		URL:     fmt.Sprintf("https://github.com/example/example/pull/%d", c.nextNumber),
		Number:  c.nextNumber,
		NodeID:  fmt.Sprintf("DRY_RUN_%d", c.nextNumber),
		HeadRef: input.Head,
	}
	if c.log != nil {
		c.log.Info("[dry-run] would create pull request", "head", input.Head, "base", input.Base, "title", input.Title, "draft", input.Draft)
	}
	return pr, nil
}

func (c *simulatedClient) MergePullRequest(ctx context.Context, pr PullRequest, title, body string) (string, error) {
	if c.log != nil {
		c.log.Info("[dry-run] would merge pull request", "url", pr.URL, "title", title)
	}
	return pr.HeadRef, nil
}

func (c *simulatedClient) EnableAutoMerge(ctx context.Context, pr PullRequest) error {
	if c.log != nil {
		c.log.Info("[dry-run] would enable auto-merge", "url", pr.URL)
	}
	return nil
}

func (c *simulatedClient) DeleteBranch(ctx context.Context, branch, defaultBranch string) error {
	if defaultBranch == "" {
		defaultBranch = c.settings.DefaultBranch
	}
	if defaultBranch != "" && branch == defaultBranch {
		if c.log != nil {
			c.log.Warn("refusing to delete the default branch", "branch", branch)
		}
		return nil
	}
	if c.log != nil {
		c.log.Info("[dry-run] would delete remote branch", "branch", branch)
	}
	return nil
}
