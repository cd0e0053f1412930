package gh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const defaultUserAgent = "prstack"

// ClientOptions configures a REST-backed Client.
type ClientOptions struct {
	Token string

	// Owner/Repo identify the base repository: pull requests are created
	// and merged there.
	Owner string
	Repo  string

	// HeadOwner/HeadRepo identify the repository published branches live in
	// (the fork). When empty they default to Owner/Repo, the shared-repo
	// workflow.
	HeadOwner string
	HeadRepo  string

	// BaseURL and UploadURL target a GitHub Enterprise instance when both
	// are set.
	BaseURL   string
	UploadURL string

	Logger *slog.Logger
}

// RESTClient implements Client on top of the go-github REST client.
type RESTClient struct {
	client    *github.Client
	owner     string
	repo      string
	headOwner string
	headRepo  string
	log       *slog.Logger

	// MergeRetries bounds how many times MergePullRequest polls before
	// giving up. When zero, a default of 10 attempts is used.
	MergeRetries int

	// MergeRetryDelay is the fixed delay between polls. When zero, a
	// default of 5 seconds is used.
	MergeRetryDelay time.Duration

	// sleep waits between polls; injectable so tests run without delay.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRESTClient constructs a Client bound to opts.Owner/opts.Repo.
func NewRESTClient(ctx context.Context, opts ClientOptions) (*RESTClient, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("repository owner and name are required")
	}
	if opts.HeadOwner == "" {
		opts.HeadOwner = opts.Owner
	}
	if opts.HeadRepo == "" {
		opts.HeadRepo = opts.Repo
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	tc := oauth2.NewClient(ctx, ts)

	var ghClient *github.Client
	if strings.TrimSpace(opts.BaseURL) != "" {
		baseURL, err := normalizeGitHubURL(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		uploadURL, err := normalizeGitHubURL(opts.UploadURL)
		if err != nil {
			return nil, fmt.Errorf("parse github upload url: %w", err)
		}
		ghClient, err = github.NewClient(tc).WithEnterpriseURLs(baseURL, uploadURL)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
	} else {
		ghClient = github.NewClient(tc)
	}
	ghClient.UserAgent = defaultUserAgent

	return &RESTClient{
		client:    ghClient,
		owner:     opts.Owner,
		repo:      opts.Repo,
		headOwner: opts.HeadOwner,
		headRepo:  opts.HeadRepo,
		log:       opts.Logger,
		sleep:     sleepWithContext,
	}, nil
}

func normalizeGitHubURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url must include scheme and host")
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	} else if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (c *RESTClient) mergeRetriesValue() int {
	if c.MergeRetries <= 0 {
		return 10
	}
	return c.MergeRetries
}

func (c *RESTClient) mergeRetryDelayValue() time.Duration {
	if c.MergeRetryDelay <= 0 {
		return 5 * time.Second
	}
	return c.MergeRetryDelay
}

func (c *RESTClient) GetUserLogin(ctx context.Context) (string, error) {
	user, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	return user.GetLogin(), nil
}

func (c *RESTClient) GetRepoSettings(ctx context.Context) (RepoSettings, error) {
	repo, _, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return RepoSettings{}, fmt.Errorf("get repository %s/%s: %w", c.owner, c.repo, err)
	}
	return RepoSettings{
		DefaultBranch:       repo.GetDefaultBranch(),
		DeleteBranchOnMerge: repo.GetDeleteBranchOnMerge(),
	}, nil
}

func (c *RESTClient) CreatePullRequest(ctx context.Context, input NewPullRequest) (PullRequest, error) {
	// Cross-fork pull requests need the head qualified with the fork owner,
	// otherwise the base repo rejects the branch as unknown.
	head := input.Head
	if c.headOwner != c.owner {
		head = c.headOwner + ":" + input.Head
	}

	if c.log != nil {
		c.log.Info("creating pull request", "head", head, "base", input.Base, "title", input.Title)
	}

	pr, _, err := c.client.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.String(input.Title),
		Head:  github.String(head),
		Base:  github.String(input.Base),
		Body:  github.String(input.Body),
		Draft: github.Bool(input.Draft),
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("create pull request for %s: %w", input.Head, err)
	}

	result := PullRequest{
		URL:    pr.GetHTMLURL(),
		Number: pr.GetNumber(),
		NodeID: pr.GetNodeID(),
	}
	if head := pr.GetHead(); head != nil {
		result.HeadRef = head.GetRef()
	}

	if c.log != nil {
		c.log.Info("pull request created", "url", result.URL)
	}
	return result, nil
}

var prNumberPattern = regexp.MustCompile(`/pull/(\d+)`)

func (c *RESTClient) prNumber(pr PullRequest) (int, error) {
	if pr.Number > 0 {
		return pr.Number, nil
	}
	match := prNumberPattern.FindStringSubmatch(pr.URL)
	if match == nil {
		return 0, fmt.Errorf("could not extract pull request number from url %q", pr.URL)
	}
	var number int
	if _, err := fmt.Sscanf(match[1], "%d", &number); err != nil {
		return 0, fmt.Errorf("parse pull request number %q: %w", match[1], err)
	}
	return number, nil
}

// MergePullRequest polls the pull request until GitHub reports it mergeable,
// then squash-merges it with the authored commit title/body. A "dirty"
// mergeable state fails immediately; transient states (mergeability still
// being computed, checks pending, 405 from an in-flight merge) are retried
// up to MergeRetries with a fixed delay.
func (c *RESTClient) MergePullRequest(ctx context.Context, pr PullRequest, title, body string) (string, error) {
	number, err := c.prNumber(pr)
	if err != nil {
		return "", err
	}

	attempts := c.mergeRetriesValue()
	delay := c.mergeRetryDelayValue()
	headRef := pr.HeadRef

	for attempt := 1; attempt <= attempts; attempt++ {
		if c.log != nil {
			c.log.Info("attempting to merge pull request", "url", pr.URL, "attempt", attempt, "max_attempts", attempts)
		}

		fresh, _, err := c.client.PullRequests.Get(ctx, c.owner, c.repo, number)
		if err != nil {
			return "", fmt.Errorf("get pull request %d: %w", number, err)
		}
		if head := fresh.GetHead(); head != nil && head.GetRef() != "" {
			headRef = head.GetRef()
		}

		switch {
		case fresh.Mergeable != nil && fresh.GetMergeable():
			opts := &github.PullRequestOptions{
				MergeMethod: "squash",
				CommitTitle: fmt.Sprintf("%s (#%d)", title, number),
			}
			_, _, err := c.client.PullRequests.Merge(ctx, c.owner, c.repo, number, body, opts)
			if err == nil {
				if c.log != nil {
					c.log.Info("pull request merged", "url", pr.URL)
				}
				return headRef, nil
			}
			if !IsRetryable(classifyGitHubError(err)) {
				return "", fmt.Errorf("merge pull request %d: %w", number, err)
			}
			if c.log != nil {
				c.log.Info("pull request not mergeable yet, retrying", "url", pr.URL, "delay", delay)
			}

		case fresh.GetMergeableState() == "dirty":
			return "", ErrMergeConflict

		default:
			// Mergeable is null while GitHub computes it, or checks are
			// still pending.
			if c.log != nil {
				c.log.Info("pull request not mergeable yet, retrying", "url", pr.URL, "state", fresh.GetMergeableState(), "delay", delay)
			}
		}

		if attempt < attempts {
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
	}

	return "", &MergeTimeoutError{PR: pr.URL, Attempts: attempts}
}

// EnableAutoMerge arms GitHub's auto-merge for the pull request. The merge
// itself happens remotely once all conditions pass; no polling here.
func (c *RESTClient) EnableAutoMerge(ctx context.Context, pr PullRequest) error {
	if pr.NodeID == "" {
		return fmt.Errorf("pull request %s has no node id", pr.URL)
	}

	// Auto-merge has no REST endpoint; issue the GraphQL mutation through
	// the same authenticated transport.
	payload := map[string]any{
		"query": `mutation($pullRequestId: ID!) {
  enablePullRequestAutoMerge(input: {pullRequestId: $pullRequestId, mergeMethod: SQUASH}) {
    clientMutationId
  }
}`,
		"variables": map[string]any{"pullRequestId": pr.NodeID},
	}

	req, err := c.client.NewRequest(http.MethodPost, "graphql", payload)
	if err != nil {
		return fmt.Errorf("build auto-merge request: %w", err)
	}

	var out struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if _, err := c.client.Do(ctx, req, &out); err != nil {
		return fmt.Errorf("enable auto-merge for %s: %w", pr.URL, err)
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("enable auto-merge for %s: %s", pr.URL, out.Errors[0].Message)
	}

	if c.log != nil {
		c.log.Info("auto-merge enabled", "url", pr.URL)
	}
	return nil
}

func (c *RESTClient) DeleteBranch(ctx context.Context, branch, defaultBranch string) error {
	if defaultBranch != "" && branch == defaultBranch {
		if c.log != nil {
			c.log.Warn("refusing to delete the default branch", "branch", branch)
		}
		return nil
	}

	if c.log != nil {
		c.log.Info("deleting remote branch", "branch", branch)
	}

	// Published branches live in the head repository, which differs from
	// the base repository in a fork workflow.
	_, err := c.client.Git.DeleteRef(ctx, c.headOwner, c.headRepo, "heads/"+branch)
	if err != nil {
		if isReferenceMissing(err) {
			if c.log != nil {
				c.log.Debug("remote branch already deleted", "branch", branch)
			}
			return nil
		}
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

func isReferenceMissing(err error) bool {
	var respErr *github.ErrorResponse
	if !errors.As(err, &respErr) {
		return false
	}
	if respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
		return true
	}
	return respErr.Response != nil &&
		respErr.Response.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(respErr.Message), "does not exist")
}
