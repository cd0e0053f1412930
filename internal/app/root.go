package app

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the prstack CLI.
func NewRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "prstack",
		Short: "Land a stack of local commits as individual GitHub pull requests",
		Long: `prstack splits the commits your current branch carries on top of an
upstream base branch into individually reviewable pull requests and lands
them one at a time: push one commit as a branch, open a PR, merge it,
rebase, repeat. Temporary branches and your original checkout are restored
on every exit path.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := LoadConfig(cfg)
			if err != nil {
				return err
			}
			runner, err := NewRunner(loaded)
			if err != nil {
				return err
			}
			return runner.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.BaseBranch, "base", defaultBaseBranch, "Upstream branch pull requests target")
	flags.StringVar(&cfg.ForkRemote, "remote", defaultForkRemote, "Remote temporary branches are pushed to (your fork)")
	flags.StringVar(&cfg.UpstreamRemote, "upstream-remote", defaultUpstreamRemote, "Remote the stack is rebased onto")
	flags.StringVar(&cfg.Prefix, "prefix", "", "Branch name prefix (default: your GitHub login followed by a slash)")
	flags.BoolVar(&cfg.Draft, "draft", false, "Open pull requests as drafts")
	flags.BoolVar(&cfg.NoMerge, "no-merge", false, "Open the pull request but leave merging to you (single commit only)")
	flags.BoolVar(&cfg.AutoMerge, "auto-merge", false, "Enable GitHub auto-merge instead of waiting (single commit only)")
	flags.BoolVar(&cfg.DryRun, "dry-run", false, "Log what would happen without pushing, creating or merging anything")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", false, "Only log warnings and errors")
	flags.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "Log format: text or json")

	return cmd
}
