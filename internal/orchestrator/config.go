package orchestrator

import (
	"errors"
	"fmt"
)

// ErrConfigInvalid indicates an unusable flag combination. It is always
// detected before any branch is published.
var ErrConfigInvalid = errors.New("invalid configuration")

// Config captures the orchestrator's runtime options. It is constructed once
// and never mutated.
type Config struct {
	// BaseBranch is the upstream branch pull requests target.
	BaseBranch string

	// UpstreamRemote is the remote the stack is rebased onto.
	UpstreamRemote string

	// ForkRemote is the remote ephemeral branches are pushed to.
	ForkRemote string

	// Prefix is prepended to every generated branch name.
	Prefix string

	Draft     bool
	NoMerge   bool
	AutoMerge bool
	DryRun    bool
}

// Validate rejects flag combinations that can never work, regardless of the
// stack being landed.
func (c Config) Validate() error {
	if c.NoMerge && c.AutoMerge {
		return fmt.Errorf("%w: no-merge and auto-merge are mutually exclusive", ErrConfigInvalid)
	}
	return nil
}

// ValidateStackSize rejects flag combinations that are only defined for a
// singleton stack. With multiple commits the loop cannot proceed to the next
// commit without knowing the previous one actually landed.
func (c Config) ValidateStackSize(size int) error {
	if size <= 1 {
		return nil
	}
	if c.AutoMerge {
		return fmt.Errorf("%w: auto-merge is only supported for a single commit, found %d", ErrConfigInvalid, size)
	}
	if c.NoMerge {
		return fmt.Errorf("%w: no-merge is only supported for a single commit, found %d", ErrConfigInvalid, size)
	}
	return nil
}
