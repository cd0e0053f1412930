package orchestrator_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prstack/prstack/internal/git"
	gh "github.com/prstack/prstack/internal/github"
	"github.com/prstack/prstack/internal/orchestrator"
)

type fakeRepo struct {
	currentBranch string
	dirty         bool

	// stacks holds the responses for successive CommitStack calls; the last
	// entry is repeated once the queue is exhausted.
	stacks     [][]string
	stackCalls int

	details map[string]git.CommitDetails

	rebaseCalls    int
	rebaseErr      error
	pushes         []string
	pushErr        error
	checkouts      []string
	deletedLocally []string
}

func (f *fakeRepo) CurrentBranch(context.Context) (string, error) {
	return f.currentBranch, nil
}

func (f *fakeRepo) IsInsideWorkTree(context.Context) (bool, error) { return true, nil }

func (f *fakeRepo) RemoteSlug(context.Context, string) (string, string, error) {
	return "octo", "stack", nil
}

func (f *fakeRepo) EnsureCleanWorkTree(context.Context) error {
	if f.dirty {
		return git.ErrDirtyWorkTree
	}
	return nil
}

func (f *fakeRepo) FetchAndRebase(context.Context, string, string) error {
	f.rebaseCalls++
	return f.rebaseErr
}

func (f *fakeRepo) CommitStack(context.Context, string, string) ([]string, error) {
	idx := f.stackCalls
	if idx >= len(f.stacks) {
		idx = len(f.stacks) - 1
	}
	f.stackCalls++
	if idx < 0 {
		return nil, nil
	}
	return f.stacks[idx], nil
}

func (f *fakeRepo) CommitDetails(_ context.Context, sha string) (git.CommitDetails, error) {
	if d, ok := f.details[sha]; ok {
		return d, nil
	}
	return git.CommitDetails{Title: "Commit " + sha}, nil
}

func (f *fakeRepo) PushCommit(_ context.Context, remote, sha, branch string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, fmt.Sprintf("%s %s %s", remote, sha, branch))
	return nil
}

func (f *fakeRepo) Checkout(_ context.Context, branch string) error {
	f.checkouts = append(f.checkouts, branch)
	return nil
}

func (f *fakeRepo) DeleteLocalBranches(_ context.Context, branches []string) error {
	f.deletedLocally = append(f.deletedLocally, branches...)
	return nil
}

type fakeGHClient struct {
	settings gh.RepoSettings

	created      []gh.NewPullRequest
	createErr    error
	merged       []string
	mergeErrs    map[int]error // keyed by 1-based merge call number
	mergeCalls   int
	autoMerged   []string
	autoMergeErr error
	deletedRefs  []string
}

func (f *fakeGHClient) GetUserLogin(context.Context) (string, error) { return "octocat", nil }

func (f *fakeGHClient) GetRepoSettings(context.Context) (gh.RepoSettings, error) {
	return f.settings, nil
}

func (f *fakeGHClient) CreatePullRequest(_ context.Context, input gh.NewPullRequest) (gh.PullRequest, error) {
	if f.createErr != nil {
		return gh.PullRequest{}, f.createErr
	}
	f.created = append(f.created, input)
	number := len(f.created)
	return gh.PullRequest{
		URL:     fmt.Sprintf("https://github.com/octo/stack/pull/%d", number),
		Number:  number,
		NodeID:  fmt.Sprintf("PR_node%d", number),
		HeadRef: input.Head,
	}, nil
}

func (f *fakeGHClient) MergePullRequest(_ context.Context, pr gh.PullRequest, title, _ string) (string, error) {
	f.mergeCalls++
	if err := f.mergeErrs[f.mergeCalls]; err != nil {
		return "", err
	}
	f.merged = append(f.merged, title)
	return pr.HeadRef, nil
}

func (f *fakeGHClient) EnableAutoMerge(_ context.Context, pr gh.PullRequest) error {
	if f.autoMergeErr != nil {
		return f.autoMergeErr
	}
	f.autoMerged = append(f.autoMerged, pr.URL)
	return nil
}

func (f *fakeGHClient) DeleteBranch(_ context.Context, branch, _ string) error {
	f.deletedRefs = append(f.deletedRefs, branch)
	return nil
}

var _ = Describe("Orchestrator", func() {
	var (
		repo   *fakeRepo
		client *fakeGHClient
		cfg    orchestrator.Config
	)

	BeforeEach(func() {
		repo = &fakeRepo{
			currentBranch: "my-feature",
			details: map[string]git.CommitDetails{
				"aaa": {Title: "Add parser", Body: "parser body"},
				"bbb": {Title: "Add printer", Body: "printer body"},
				"ccc": {Title: "Add driver", Body: "driver body"},
			},
		}
		client = &fakeGHClient{settings: gh.RepoSettings{DefaultBranch: "main"}}
		cfg = orchestrator.Config{
			BaseBranch:     "main",
			UpstreamRemote: "upstream",
			ForkRemote:     "origin",
			Prefix:         "octocat/",
		}
	})

	run := func() (orchestrator.Result, error) {
		return orchestrator.New(cfg, client, repo, nil).Run(context.Background())
	}

	It("lands a three-commit stack in order", func() {
		// Each landing rebases history, so subsequent resolutions see new
		// commit ids for the remaining stack.
		repo.stacks = [][]string{
			{"aaa", "bbb", "ccc"},
			{"aaa", "bbb", "ccc"},
			{"bbb", "ccc"},
			{"ccc"},
		}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())

		Expect(result.Commits).To(HaveLen(3))
		Expect(result.Commits[0].Title).To(Equal("Add parser"))
		Expect(result.Commits[1].Title).To(Equal("Add printer"))
		Expect(result.Commits[2].Title).To(Equal("Add driver"))
		for _, commit := range result.Commits {
			Expect(commit.Status).To(Equal(orchestrator.StatusLanded))
		}

		Expect(repo.pushes).To(Equal([]string{
			"origin aaa octocat/my-feature-1",
			"origin bbb octocat/my-feature-2",
			"origin ccc octocat/my-feature-3",
		}))
		Expect(client.merged).To(Equal([]string{"Add parser", "Add printer", "Add driver"}))

		// Every merged branch was deleted remotely, none linger for cleanup.
		Expect(client.deletedRefs).To(Equal([]string{
			"octocat/my-feature-1",
			"octocat/my-feature-2",
			"octocat/my-feature-3",
		}))
		Expect(repo.deletedLocally).To(BeEmpty())
		Expect(repo.checkouts).To(Equal([]string{"my-feature"}))

		// Initial rebase plus one resync before each commit after the first.
		Expect(repo.rebaseCalls).To(Equal(3))
	})

	It("skips the explicit branch delete when the repo auto-deletes on merge", func() {
		client.settings.DeleteBranchOnMerge = true
		repo.stacks = [][]string{{"aaa"}, {"aaa"}}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Commits).To(HaveLen(1))
		Expect(client.merged).To(HaveLen(1))
		Expect(client.deletedRefs).To(BeEmpty())
	})

	It("succeeds without side effects on an empty stack", func() {
		repo.stacks = [][]string{{}}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Commits).To(BeEmpty())
		Expect(repo.pushes).To(BeEmpty())
		Expect(client.created).To(BeEmpty())
		Expect(repo.checkouts).To(Equal([]string{"my-feature"}))
	})

	It("stops early when the remaining commits land upstream concurrently", func() {
		repo.stacks = [][]string{
			{"aaa", "bbb"},
			{"aaa", "bbb"},
			{}, // everything else was absorbed upstream
		}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Commits).To(HaveLen(1))
		Expect(result.Commits[0].Title).To(Equal("Add parser"))
	})

	It("derives the branch base from the first commit when run from the default branch", func() {
		repo.currentBranch = "main"
		repo.stacks = [][]string{{"aaa"}, {"aaa"}}

		_, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.pushes).To(Equal([]string{"origin aaa octocat/add-parser-1"}))
	})

	It("rejects no-merge combined with auto-merge before touching the repo", func() {
		cfg.NoMerge = true
		cfg.AutoMerge = true

		_, err := run()
		Expect(err).To(MatchError(orchestrator.ErrConfigInvalid))
		Expect(repo.rebaseCalls).To(BeZero())
	})

	It("rejects multi-commit stacks under no-merge before publishing anything", func() {
		cfg.NoMerge = true
		repo.stacks = [][]string{{"aaa", "bbb"}}

		_, err := run()
		Expect(err).To(MatchError(orchestrator.ErrConfigInvalid))
		Expect(repo.pushes).To(BeEmpty())
		Expect(client.created).To(BeEmpty())
		Expect(repo.checkouts).To(Equal([]string{"my-feature"}))
	})

	It("rejects multi-commit stacks under auto-merge before publishing anything", func() {
		cfg.AutoMerge = true
		repo.stacks = [][]string{{"aaa", "bbb"}}

		_, err := run()
		Expect(err).To(MatchError(orchestrator.ErrConfigInvalid))
		Expect(repo.pushes).To(BeEmpty())
	})

	It("defers merging under no-merge and keeps the branch for the open pull request", func() {
		cfg.NoMerge = true
		repo.stacks = [][]string{{"aaa"}, {"aaa"}}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Commits).To(HaveLen(1))
		Expect(result.Commits[0].Status).To(Equal(orchestrator.StatusDeferred))
		Expect(result.Commits[0].PRURL).NotTo(BeEmpty())

		Expect(client.mergeCalls).To(BeZero())
		Expect(client.deletedRefs).To(BeEmpty())
		Expect(repo.deletedLocally).To(BeEmpty())
	})

	It("arms auto-merge and leaves the branch to GitHub", func() {
		cfg.AutoMerge = true
		repo.stacks = [][]string{{"aaa"}, {"aaa"}}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Commits).To(HaveLen(1))
		Expect(result.Commits[0].Status).To(Equal(orchestrator.StatusAutoMerge))

		Expect(client.autoMerged).To(HaveLen(1))
		Expect(client.mergeCalls).To(BeZero())
		Expect(client.deletedRefs).To(BeEmpty())
		Expect(repo.deletedLocally).To(BeEmpty())
	})

	It("fails when auto-merge cannot be enabled", func() {
		cfg.AutoMerge = true
		client.autoMergeErr = errors.New("auto-merge is not allowed on this repository")
		repo.stacks = [][]string{{"aaa"}, {"aaa"}}

		_, err := run()
		Expect(err).To(HaveOccurred())

		// The published branch did not land, so cleanup removes it.
		Expect(client.deletedRefs).To(Equal([]string{"octocat/my-feature-1"}))
	})

	It("cleans up published-but-unlanded branches after a mid-stack failure", func() {
		repo.stacks = [][]string{
			{"aaa", "bbb", "ccc"},
			{"aaa", "bbb", "ccc"},
			{"bbb", "ccc"},
		}
		client.mergeErrs = map[int]error{2: gh.ErrMergeConflict}

		result, err := run()
		Expect(err).To(MatchError(gh.ErrMergeConflict))

		// The first commit stayed landed; the second was published but not
		// merged, so its branch is removed locally and remotely.
		Expect(result.Commits).To(HaveLen(1))
		Expect(result.Commits[0].Status).To(Equal(orchestrator.StatusLanded))

		Expect(repo.deletedLocally).To(Equal([]string{"octocat/my-feature-2"}))
		Expect(client.deletedRefs).To(Equal([]string{
			"octocat/my-feature-1", // deleted as part of landing
			"octocat/my-feature-2", // deleted by cleanup
		}))
		Expect(repo.checkouts).To(Equal([]string{"my-feature"}))
	})

	It("cleans up after a pull request creation failure", func() {
		repo.stacks = [][]string{{"aaa"}, {"aaa"}}
		client.createErr = errors.New("422 validation failed")

		_, err := run()
		Expect(err).To(HaveOccurred())
		Expect(repo.deletedLocally).To(Equal([]string{"octocat/my-feature-1"}))
		Expect(client.deletedRefs).To(Equal([]string{"octocat/my-feature-1"}))
	})

	It("aborts on a dirty working tree and still restores the checkout", func() {
		repo.dirty = true
		repo.stacks = [][]string{{"aaa"}}

		_, err := run()
		Expect(err).To(MatchError(git.ErrDirtyWorkTree))
		Expect(repo.pushes).To(BeEmpty())
		Expect(repo.checkouts).To(Equal([]string{"my-feature"}))
	})

	It("surfaces rebase conflicts as fatal", func() {
		repo.rebaseErr = &git.RebaseConflictError{Target: "upstream/main", Err: errors.New("conflict")}
		repo.stacks = [][]string{{"aaa"}}

		_, err := run()
		var conflict *git.RebaseConflictError
		Expect(errors.As(err, &conflict)).To(BeTrue())
		Expect(repo.pushes).To(BeEmpty())
	})

	Context("dry run", func() {
		BeforeEach(func() {
			cfg.DryRun = true
		})

		It("rehearses every commit with its own branch and title", func() {
			repo.stacks = [][]string{{"aaa", "bbb", "ccc"}}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Commits).To(HaveLen(3))
			for _, commit := range result.Commits {
				Expect(commit.Status).To(Equal(orchestrator.StatusDryRun))
			}
			Expect(result.Commits[0].Branch).To(Equal("octocat/my-feature-1"))
			Expect(result.Commits[1].Branch).To(Equal("octocat/my-feature-2"))
			Expect(result.Commits[2].Branch).To(Equal("octocat/my-feature-3"))
			Expect(result.Commits[2].Title).To(Equal("Add driver"))

			// Nothing lands under dry run, so there is no per-commit resync.
			Expect(repo.rebaseCalls).To(Equal(1))
		})

		It("rehearses the branch-delete step only when the repo keeps merged branches", func() {
			repo.stacks = [][]string{{"aaa"}}

			_, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(client.deletedRefs).To(Equal([]string{"octocat/my-feature-1"}))

			autoDeleting := &fakeGHClient{settings: gh.RepoSettings{
				DefaultBranch:       "main",
				DeleteBranchOnMerge: true,
			}}
			repo.stackCalls = 0

			_, err = orchestrator.New(cfg, autoDeleting, repo, nil).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(autoDeleting.deletedRefs).To(BeEmpty())
		})
	})
})
