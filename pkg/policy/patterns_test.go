package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"double-star nested tests", "modules/**/tests/*.py", "modules/x/tests/test_y.py", true},
		{"double-star deep nesting", "modules/**/tests/*.py", "modules/a/b/c/tests/test_z.py", true},
		{"double-star zero dirs", "modules/**/tests/*.py", "modules/tests/test_y.py", true},
		{"double-star wrong subtree", "modules/**/tests/*.py", "modules/x/src/y.py", false},
		{"double-star wrong prefix", "modules/**/tests/*.py", "lib/x/tests/test_y.py", false},
		{"trailing double-star", "secrets/**", "secrets/prod/api_key.txt", true},
		{"trailing double-star miss", "secrets/**", "config/settings.yaml", false},
		{"bare double-star suffix", "**/*.json", "metrics/daily/report.json", true},
		{"dot-dir forbid", ".git/**", ".git/hooks/pre-commit", true},
		{"single segment glob", "*.md", "README.md", true},
		{"single segment glob no dirs", "*.md", "docs/README.md", false},
		{"direct multi segment", "config/*.yaml", "config/app.yaml", true},
		{"direct multi segment miss", "config/*.yaml", "config/sub/app.yaml", false},
		{"backslash normalization", "modules/**/tests/*.py", "modules\\x\\tests\\test_y.py", true},
		{"credentials glob", "config/credentials*", "config/credentials.json", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matchPattern(tc.pattern, tc.path),
				"pattern=%q path=%q", tc.pattern, tc.path)
		})
	}
}

func TestMatchAnyReportsMatchingPattern(t *testing.T) {
	patterns := []string{".git/**", "secrets/**"}

	p, ok := matchAny(patterns, "secrets/token")
	assert.True(t, ok)
	assert.Equal(t, "secrets/**", p)

	_, ok = matchAny(patterns, "src/main.go")
	assert.False(t, ok)

	_, ok = matchAny(nil, "anything")
	assert.False(t, ok)
}
