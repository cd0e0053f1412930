package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	github "github.com/google/go-github/v55/github"
)

// RepoSettings carries the repository-level configuration the landing loop
// depends on. It is read once per session.
type RepoSettings struct {
	DefaultBranch       string
	DeleteBranchOnMerge bool
}

// NewPullRequest describes a pull request to be opened.
type NewPullRequest struct {
	Head  string
	Base  string
	Title string
	Body  string
	Draft bool
}

// PullRequest references a remote pull request. State such as mergeability
// is never cached here: it is computed asynchronously by GitHub and must be
// re-fetched on every poll.
type PullRequest struct {
	URL     string
	Number  int
	NodeID  string
	HeadRef string
}

// Client exposes the GitHub operations required by the landing orchestrator.
// Implementations are bound to a single owner/repo pair.
type Client interface {
	GetUserLogin(ctx context.Context) (string, error)
	GetRepoSettings(ctx context.Context) (RepoSettings, error)
	CreatePullRequest(ctx context.Context, input NewPullRequest) (PullRequest, error)
	// MergePullRequest polls mergeability with bounded retries and performs
	// a squash merge using title/body as the squash commit message. It
	// returns the PR's head branch name.
	MergePullRequest(ctx context.Context, pr PullRequest, title, body string) (string, error)
	EnableAutoMerge(ctx context.Context, pr PullRequest) error
	// DeleteBranch removes a remote branch. It refuses to touch
	// defaultBranch and treats an already-deleted branch as success.
	DeleteBranch(ctx context.Context, branch, defaultBranch string) error
}

// ErrMergeConflict indicates the pull request is in a conflicted ("dirty")
// state. Conflicts do not resolve themselves by waiting, so this is terminal.
var ErrMergeConflict = errors.New("github: pull request has a merge conflict")

// MergeTimeoutError indicates the pull request never became mergeable within
// the retry budget.
type MergeTimeoutError struct {
	PR       string
	Attempts int
}

func (e *MergeTimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("github: %s was not mergeable after %d attempts", e.PR, e.Attempts)
}

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether the supplied error resulted from a transient
// GitHub failure (rate limit, 5xx, a 405 from a merge still being processed,
// or a network timeout).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}

func classifyGitHubError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableGitHubError(err) {
		return &retryableError{err: err}
	}
	return err
}

func isRetryableGitHubError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response != nil {
			code := respErr.Response.StatusCode
			// 405 on a merge means GitHub has not finished computing the
			// merge yet; the caller should poll again.
			if code == http.StatusMethodNotAllowed || code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
				return true
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	return false
}
