package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionKindIsValid(t *testing.T) {
	tests := []struct {
		name  string
		kind  SessionKind
		valid bool
	}{
		{
			name:  "test kind",
			kind:  SessionKindTest,
			valid: true,
		},
		{
			name:  "docs kind",
			kind:  SessionKindDocs,
			valid: true,
		},
		{
			name:  "linkcheck kind",
			kind:  SessionKindLinkcheck,
			valid: true,
		},
		{
			name:  "lint kind",
			kind:  SessionKindLint,
			valid: true,
		},
		{
			name:  "rust check kind",
			kind:  SessionKindRustCheck,
			valid: true,
		},
		{
			name:  "rust coverage kind",
			kind:  SessionKindRustCoverage,
			valid: true,
		},
		{
			name:  "empty kind",
			kind:  SessionKind(""),
			valid: false,
		},
		{
			name:  "unknown kind",
			kind:  SessionKind("fuzz"),
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.kind.IsValid())
		})
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		expected string
	}{
		{
			name:     "bare binary",
			cmd:      Command{Bin: "check-manifest"},
			expected: "check-manifest",
		},
		{
			name:     "binary with args",
			cmd:      Command{Bin: "pytest", Args: []string{"-n", "auto", "tests/"}},
			expected: "pytest -n auto tests/",
		},
		{
			name:     "directory does not change rendering",
			cmd:      Command{Bin: "cargo", Args: []string{"fmt"}, Dir: "/repo/src/rust"},
			expected: "cargo fmt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cmd.String())
		})
	}
}

func TestDefaultProject(t *testing.T) {
	project := DefaultProject()

	assert.Equal(t, "ci-constraints-requirements.txt", project.ConstraintsFile)
	assert.Equal(t, "tests", project.TestsDir)
	assert.Equal(t, "src/rust", project.RustDir)
	assert.Equal(t, "rust-cov.profdata", project.MergedProfile)
	assert.Equal(t, "cov.lcov", project.ReportFile)
	assert.NotEmpty(t, project.ExcludePatterns, "Coverage reports should exclude toolchain sources")
}
