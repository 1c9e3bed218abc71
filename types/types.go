package types

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus represents the outcome of a check session.
type SessionStatus string

const (
	SessionStatusPass SessionStatus = "pass"
	SessionStatusFail SessionStatus = "fail"
	SessionStatusSkip SessionStatus = "skip"
)

// SessionKind identifies which command plan a session executes.
type SessionKind string

const (
	SessionKindTest         SessionKind = "test"
	SessionKindDocs         SessionKind = "docs"
	SessionKindLinkcheck    SessionKind = "linkcheck"
	SessionKindLint         SessionKind = "lint"
	SessionKindRustCheck    SessionKind = "rust-check"
	SessionKindRustCoverage SessionKind = "rust-coverage"
)

// IsValid reports whether the kind names a known command plan.
func (k SessionKind) IsValid() bool {
	switch k {
	case SessionKindTest, SessionKindDocs, SessionKindLinkcheck,
		SessionKindLint, SessionKindRustCheck, SessionKindRustCoverage:
		return true
	}
	return false
}

// SessionDefinition describes a named check session.
type SessionDefinition struct {
	Name          string      `yaml:"name"`
	Kind          SessionKind `yaml:"kind"`
	Description   string      `yaml:"description,omitempty"`
	InstallExtras []string    `yaml:"install_extras,omitempty"` // package extras for the project install
	Coverage      bool        `yaml:"coverage,omitempty"`       // collect source coverage during the test run
}

// Project describes the layout of the repository under check.
// Zero fields fall back to the defaults from DefaultProject.
type Project struct {
	ConstraintsFile  string   `yaml:"constraints_file,omitempty"`
	VectorsDir       string   `yaml:"vectors_dir,omitempty"`
	TestsDir         string   `yaml:"tests_dir,omitempty"`
	DocsDir          string   `yaml:"docs_dir,omitempty"`
	CoverageTargets  []string `yaml:"coverage_targets,omitempty"`
	LintTargets      []string `yaml:"lint_targets,omitempty"`
	RustDir          string   `yaml:"rust_dir,omitempty"`
	FragmentGlob     string   `yaml:"fragment_glob,omitempty"`
	SharedObjectGlob string   `yaml:"shared_object_glob,omitempty"`
	MergedProfile    string   `yaml:"merged_profile,omitempty"`
	ReportFile       string   `yaml:"report_file,omitempty"`
	ExcludePatterns  []string `yaml:"exclude_patterns,omitempty"`
}

// DefaultProject returns the conventional repository layout. The constraints
// file pins install versions, vectors is an editable companion package, and
// the rust paths locate the native extension crate and its coverage outputs.
func DefaultProject() Project {
	return Project{
		ConstraintsFile:  "ci-constraints-requirements.txt",
		VectorsDir:       "vectors",
		TestsDir:         "tests",
		DocsDir:          "docs",
		CoverageTargets:  []string{"src", "tests"},
		LintTargets:      []string{"src/", "tests/"},
		RustDir:          "src/rust",
		FragmentGlob:     "**/*.profraw",
		SharedObjectGlob: "lib/**/site-packages/**/_rust*.so",
		MergedProfile:    "rust-cov.profdata",
		ReportFile:       "cov.lcov",
		ExcludePatterns:  []string{"/.cargo/", "/rustc/", "/.rustup/toolchains/"},
	}
}

// Command describes a single external process invocation.
type Command struct {
	Bin  string
	Args []string
	Dir  string            // working directory; empty means the runner's default
	Env  map[string]string // extra environment entries, merged over the base env
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Bin
	}
	return fmt.Sprintf("%s %s", c.Bin, strings.Join(c.Args, " "))
}

// SessionResult captures the outcome of a single session.
type SessionResult struct {
	Name     string
	Kind     SessionKind
	Status   SessionStatus
	Duration time.Duration
	Error    error
}
