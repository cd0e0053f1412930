package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	branchTokenStrip    = regexp.MustCompile(`[^\w\s-]+`)
	branchTokenCollapse = regexp.MustCompile(`[-\s]+`)
)

// fallbackBranchToken is used when sanitization leaves nothing: a branch
// name must never be empty.
const fallbackBranchToken = "auto-pr"

// SanitizeBranchToken turns free-form text (typically a commit title) into a
// token valid inside a branch name: word characters, digits and hyphens only,
// lowercased, with runs of whitespace/hyphens collapsed. Idempotent.
func SanitizeBranchToken(text string) string {
	token := branchTokenStrip.ReplaceAllString(text, "")
	token = strings.ToLower(strings.TrimSpace(token))
	token = branchTokenCollapse.ReplaceAllString(token, "-")
	if token == "" {
		return fallbackBranchToken
	}
	return token
}

// BranchNameFor computes the branch name for the commit at the given stack
// position. The 1-based suffix keeps names stable across runs, so a re-run
// after a crash mid-stack produces the same branches.
func BranchNameFor(prefix, baseName string, index int) string {
	return fmt.Sprintf("%s%s-%d", prefix, baseName, index+1)
}
