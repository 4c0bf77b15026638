package policy

import (
	"path"
	"strings"
)

// matchPattern reports whether a file path matches one allow/forbid pattern.
//
// Paths and patterns are POSIX-normalized (backslashes become forward
// slashes) before comparison. A pattern containing "**" is split at the
// first "**": the path must start with the literal prefix, and some
// trailing sub-path of the remainder must glob-match the pattern's suffix.
// Patterns without "**" require a direct segment-wise glob match.
func matchPattern(pattern, filePath string) bool {
	pattern = normalizePath(pattern)
	filePath = normalizePath(filePath)

	i := strings.Index(pattern, "**")
	if i < 0 {
		ok, err := path.Match(pattern, filePath)
		return err == nil && ok
	}

	prefix := pattern[:i]
	suffix := strings.TrimPrefix(pattern[i+2:], "/")

	if !strings.HasPrefix(filePath, prefix) {
		return false
	}
	if suffix == "" {
		// "dir/**" covers everything under the prefix.
		return true
	}

	rest := strings.TrimPrefix(strings.TrimPrefix(filePath, prefix), "/")
	segments := strings.Split(rest, "/")
	for j := range segments {
		candidate := strings.Join(segments[j:], "/")
		if ok, err := path.Match(suffix, candidate); err == nil && ok {
			return true
		}
	}
	return false
}

// matchAny returns the first pattern in the list matching the path.
func matchAny(patterns []string, filePath string) (string, bool) {
	for _, p := range patterns {
		if matchPattern(p, filePath) {
			return p, true
		}
	}
	return "", false
}

func normalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
