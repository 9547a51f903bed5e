// Package mapping infers projects and branches from Discord naming
// conventions. Everything here is pure: the same channel or category name
// always resolves to the same branch or project.
package mapping

import (
	"fmt"
	"regexp"
	"strings"
)

// Channel naming conventions.
var (
	mainBranchNames = map[string]bool{"main": true, "master": true}
	issuePattern    = regexp.MustCompile(`^issue-(\d+)(?:-(.+))?$`)
	featPattern     = regexp.MustCompile(`^feat[-/](.+)$`)

	// Overrides must look like a git ref: letters, digits, dot, underscore,
	// dash and interior slashes. No whitespace, no leading/trailing slash.
	overridePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+(?:/[A-Za-z0-9._-]+)*$`)
)

// BranchFromChannelName infers the git branch from a Discord channel name.
//
// Conventions:
//   - #main or #master        -> that branch
//   - #issue-123 or #issue-123-fix-bug -> issue-123[-fix-bug]
//   - #feat-login or #feat/login -> feat-login
//   - anything else           -> the channel name as-is
func BranchFromChannelName(channelName string) string {
	name := strings.ToLower(strings.TrimSpace(channelName))

	if mainBranchNames[name] {
		return name
	}

	if m := issuePattern.FindStringSubmatch(name); m != nil {
		if m[2] != "" {
			return fmt.Sprintf("issue-%s-%s", m[1], m[2])
		}
		return "issue-" + m[1]
	}

	if m := featPattern.FindStringSubmatch(name); m != nil {
		return "feat-" + m[1]
	}

	return name
}

// ProjectFromCategoryName infers the project name from a Discord category
// name: lowercased, spaces collapsed to hyphens.
func ProjectFromCategoryName(categoryName string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(categoryName)), " ", "-")
}

// ValidateBranch reports whether an explicit branch override is usable
// verbatim. Overrides bypass channel-name inference, so they are checked
// against a conservative git-ref-shaped character set.
func ValidateBranch(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name is empty")
	}
	if !overridePattern.MatchString(branch) {
		return fmt.Errorf("branch name %q contains disallowed characters", branch)
	}
	return nil
}

// Resolve returns the branch for a channel, applying an explicit override
// when present. The override is used verbatim after validation; otherwise
// the channel name is classified.
func Resolve(channelName, override string) (string, error) {
	if override != "" {
		if err := ValidateBranch(override); err != nil {
			return "", err
		}
		return override, nil
	}
	return BranchFromChannelName(channelName), nil
}

// ParseOverride splits a leading "@branch " prefix off a message.
// Returns the override (empty if none) and the remaining text.
// A bare "@" or a mention like "<@12345>" is not an override.
func ParseOverride(text string) (override, remainder string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "@") || strings.HasPrefix(trimmed, "<@") {
		return "", text
	}

	head, rest, _ := strings.Cut(trimmed, " ")
	candidate := strings.TrimPrefix(head, "@")
	if candidate == "" {
		return "", text
	}
	return candidate, strings.TrimSpace(rest)
}
