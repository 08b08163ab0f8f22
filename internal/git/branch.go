package git

import (
	"regexp"
	"strings"
)

// DefaultBranchPrefix is prepended to every generated branch name.
const DefaultBranchPrefix = "feature/ai-"

var (
	invalidBranchChars = regexp.MustCompile(`[^a-z0-9]`)
	repeatedHyphens    = regexp.MustCompile(`-+`)
)

// BranchNamer derives deterministic branch names from task IDs.
type BranchNamer struct {
	Prefix string
}

// NewBranchNamer returns a namer using prefix, or DefaultBranchPrefix if empty.
func NewBranchNamer(prefix string) BranchNamer {
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return BranchNamer{Prefix: prefix}
}

// Generate lower-cases id, maps anything outside [a-z0-9] to a hyphen,
// collapses and trims hyphens, and adds the prefix.
func (n BranchNamer) Generate(id string) string {
	s := invalidBranchChars.ReplaceAllString(strings.ToLower(id), "-")
	s = repeatedHyphens.ReplaceAllString(s, "-")
	return n.Prefix + strings.Trim(s, "-")
}

// IsAIBranch reports whether name carries the namer's prefix.
func (n BranchNamer) IsAIBranch(name string) bool {
	return strings.HasPrefix(name, n.Prefix)
}
