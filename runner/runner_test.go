package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-checks/logging"
	"github.com/ethereum-optimism/infra/op-checks/registry"
	"github.com/ethereum-optimism/infra/op-checks/types"
)

// fakeExecutor records every command instead of spawning processes.
type fakeExecutor struct {
	mu        sync.Mutex
	commands  []types.Command
	runFn     func(cmd types.Command) error
	captureFn func(cmd types.Command) (string, error)
}

func (f *fakeExecutor) Run(ctx context.Context, cmd types.Command) error {
	f.record(cmd)
	if f.runFn != nil {
		return f.runFn(cmd)
	}
	return nil
}

func (f *fakeExecutor) Capture(ctx context.Context, cmd types.Command) (string, error) {
	f.record(cmd)
	if f.captureFn != nil {
		return f.captureFn(cmd)
	}
	return "", nil
}

func (f *fakeExecutor) record(cmd types.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeExecutor) recorded() []types.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Command, len(f.commands))
	copy(out, f.commands)
	return out
}

func (f *fakeExecutor) binaries() []string {
	var bins []string
	for _, cmd := range f.recorded() {
		bins = append(bins, cmd.Bin)
	}
	return bins
}

// testRunnerConfig bundles the pieces tests commonly tweak.
type testRunnerConfig struct {
	sessions    []string
	forwardArgs []string
	extraEnv    map[string]string
	envDir      string
	fileLogger  *logging.FileLogger
}

func newTestRunner(t *testing.T, cfg testRunnerConfig) (*runner, *fakeExecutor) {
	t.Helper()

	reg, err := registry.NewRegistry(registry.Config{})
	require.NoError(t, err)

	r, err := NewSessionRunner(Config{
		Registry:    reg,
		RepoDir:     t.TempDir(),
		EnvDir:      cfg.envDir,
		Sessions:    cfg.sessions,
		ForwardArgs: cfg.forwardArgs,
		ExtraEnv:    cfg.extraEnv,
		FileLogger:  cfg.fileLogger,
	})
	require.NoError(t, err)

	exec := &fakeExecutor{}
	impl := r.(*runner)
	impl.newExecutor = func(ExecutorConfig) (Executor, error) {
		return exec, nil
	}
	return impl, exec
}

func sessionByName(t *testing.T, r *runner, name string) types.SessionDefinition {
	t.Helper()
	session, ok := r.registry.Session(name)
	require.True(t, ok, "session %s must be registered", name)
	return session
}

func TestNewSessionRunner_Validation(t *testing.T) {
	_, err := NewSessionRunner(Config{RepoDir: "/tmp"})
	assert.ErrorContains(t, err, "registry is required")

	reg, err := registry.NewRegistry(registry.Config{})
	require.NoError(t, err)

	_, err = NewSessionRunner(Config{Registry: reg})
	assert.ErrorContains(t, err, "repo directory is required")

	_, err = NewSessionRunner(Config{Registry: reg, RepoDir: "/tmp", Sessions: []string{"nope"}})
	assert.ErrorContains(t, err, "unknown session")
}

func TestRunTestSession_CommandPlan(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"tests"}})

	result, err := r.RunSession(context.Background(), sessionByName(t, r, "tests"))
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusPass, result.Status)

	recorded := exec.recorded()
	require.Len(t, recorded, 4)

	assert.Equal(t, "python", recorded[0].Bin)
	assert.Equal(t, []string{"-m", "pip", "install", "-v", "-c", "ci-constraints-requirements.txt", ".[test]"}, recorded[0].Args)

	assert.Equal(t, "python", recorded[1].Bin)
	assert.Equal(t, []string{"-m", "pip", "install", "-v", "-c", "ci-constraints-requirements.txt", "-e", "./vectors"}, recorded[1].Args)

	assert.Equal(t, "python", recorded[2].Bin)
	assert.Equal(t, []string{"-m", "pip", "list"}, recorded[2].Args)

	assert.Equal(t, "pytest", recorded[3].Bin)
	assert.Equal(t, []string{"-n", "auto", "--dist=worksteal", "--cov=src", "--cov=tests", "--durations=10", "tests/"}, recorded[3].Args)
}

func TestRunTestSession_NoCoverage(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"tests-nocoverage"}})

	_, err := r.RunSession(context.Background(), sessionByName(t, r, "tests-nocoverage"))
	require.NoError(t, err)

	recorded := exec.recorded()
	require.Len(t, recorded, 4)
	assert.Equal(t, []string{"-n", "auto", "--dist=worksteal", "--durations=10", "tests/"}, recorded[3].Args,
		"no --cov arguments for a no-coverage session")
}

func TestRunTestSession_ForwardArgs(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{
		sessions:    []string{"tests"},
		forwardArgs: []string{"-k", "test_rsa", "-x"},
	})

	_, err := r.RunSession(context.Background(), sessionByName(t, r, "tests"))
	require.NoError(t, err)

	recorded := exec.recorded()
	require.Len(t, recorded, 4)
	assert.Equal(t, []string{
		"-n", "auto", "--dist=worksteal", "--cov=src", "--cov=tests", "--durations=10",
		"-k", "test_rsa", "-x",
		"tests/",
	}, recorded[3].Args, "forwarded arguments go to the test runner verbatim, before the tests path")
}

func TestRunTestSession_ExtrasVariant(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"tests-ssh"}})

	_, err := r.RunSession(context.Background(), sessionByName(t, r, "tests-ssh"))
	require.NoError(t, err)

	recorded := exec.recorded()
	require.NotEmpty(t, recorded)
	assert.Contains(t, recorded[0].Args, ".[test,ssh]")
}

func TestRunDocsSession_CommandPlan(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"docs"}})

	_, err := r.RunSession(context.Background(), sessionByName(t, r, "docs"))
	require.NoError(t, err)

	recorded := exec.recorded()
	require.Len(t, recorded, 7)

	assert.Contains(t, recorded[0].Args, ".[docs,docstest,sdist,ssh]")

	builders := []string{"html", "latex", "doctest", "spelling"}
	for i, builder := range builders {
		cmd := recorded[1+i]
		assert.Equal(t, "sphinx-build", cmd.Bin)
		assert.Equal(t, "-T", cmd.Args[0])
		assert.Equal(t, "-W", cmd.Args[1])
		assert.Equal(t, builder, cmd.Args[3], "builders run in a fixed order")
		if builder == "spelling" {
			assert.NotContains(t, cmd.Args, "-d", "the spelling builder has no doctree cache")
		} else {
			assert.Contains(t, cmd.Args, "-d")
		}
		assert.Equal(t, "docs", cmd.Args[len(cmd.Args)-2])
	}
	assert.Equal(t, "docs/_build/latex", recorded[2].Args[len(recorded[2].Args)-1])

	assert.Equal(t, "python", recorded[5].Bin)
	assert.Equal(t, []string{"-m", "build", "--sdist"}, recorded[5].Args)

	assert.Equal(t, "twine", recorded[6].Bin)
	assert.Equal(t, []string{"check", "dist/*"}, recorded[6].Args)
}

func TestRunLinkcheckSession_CommandPlan(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"docs-linkcheck"}})

	_, err := r.RunSession(context.Background(), sessionByName(t, r, "docs-linkcheck"))
	require.NoError(t, err)

	recorded := exec.recorded()
	require.Len(t, recorded, 2)
	assert.Equal(t, "sphinx-build", recorded[1].Bin)
	assert.Equal(t, []string{"-W", "-b", "linkcheck", "docs", "docs/_build/html"}, recorded[1].Args)
}

func TestRunLintSession_CommandPlan(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"lint"}})

	_, err := r.RunSession(context.Background(), sessionByName(t, r, "lint"))
	require.NoError(t, err)

	recorded := exec.recorded()
	require.Len(t, recorded, 5)

	assert.Contains(t, recorded[0].Args, ".[pep8test,test,ssh]")
	assert.Equal(t, "ruff", recorded[1].Bin)
	assert.Equal(t, []string{"."}, recorded[1].Args)
	assert.Equal(t, "black", recorded[2].Bin)
	assert.Equal(t, []string{"--check", "."}, recorded[2].Args)
	assert.Equal(t, "check-manifest", recorded[3].Bin)
	assert.Empty(t, recorded[3].Args)
	assert.Equal(t, "mypy", recorded[4].Bin)
	assert.Equal(t, []string{"src/", "tests/"}, recorded[4].Args)
}

func TestRunRustCheckSession_CommandPlan(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"rust-check"}})

	_, err := r.RunSession(context.Background(), sessionByName(t, r, "rust-check"))
	require.NoError(t, err)

	recorded := exec.recorded()
	require.Len(t, recorded, 4)

	assert.Contains(t, recorded[0].Args, ".", "the package installs without extras")

	rustDir := filepath.Join(r.repoDir, "src/rust")
	cargoArgs := [][]string{
		{"fmt", "--all", "--", "--check"},
		{"clippy", "--", "-D", "warnings"},
		{"test", "--no-default-features"},
	}
	for i, want := range cargoArgs {
		cmd := recorded[1+i]
		assert.Equal(t, "cargo", cmd.Bin)
		assert.Equal(t, want, cmd.Args)
		assert.Equal(t, rustDir, cmd.Dir, "cargo commands run in the crate directory")
	}
}

func TestRunRustCoverageSession_CommandPlan(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"rust-coverage"}})

	result, err := r.RunSession(context.Background(), sessionByName(t, r, "rust-coverage"))
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusPass, result.Status)

	// The instrumented suite runs first, then the native tests, then the
	// build-message discovery. With no fragments and no test binaries the
	// merge and export stages no-op.
	assert.Equal(t, []string{"python", "python", "python", "pytest", "cargo", "cargo"}, exec.binaries())

	recorded := exec.recorded()
	assert.Contains(t, recorded[3].Args, "--cov=src", "the instrumented suite still collects source coverage")
	assert.Equal(t, []string{"test", "--no-default-features"}, recorded[4].Args)
	assert.Equal(t, []string{"test", "--no-default-features", "--all", "--tests", "--no-run", "-q", "--message-format=json"}, recorded[5].Args)
}

func TestSessionExecutorEnv(t *testing.T) {
	reg, err := registry.NewRegistry(registry.Config{})
	require.NoError(t, err)

	r, err := NewSessionRunner(Config{
		Registry: reg,
		RepoDir:  t.TempDir(),
		ExtraEnv: map[string]string{"SOURCE_DATE_EPOCH": "0"},
	})
	require.NoError(t, err)
	impl := r.(*runner)

	var captured []ExecutorConfig
	impl.newExecutor = func(cfg ExecutorConfig) (Executor, error) {
		captured = append(captured, cfg)
		return &fakeExecutor{}, nil
	}

	_, err = impl.sessionExecutor(sessionByName(t, impl, "tests"))
	require.NoError(t, err)
	_, err = impl.sessionExecutor(sessionByName(t, impl, "rust-coverage"))
	require.NoError(t, err)

	require.Len(t, captured, 2)

	testsEnv := captured[0].ExtraEnv
	assert.Equal(t, "0", testsEnv["SOURCE_DATE_EPOCH"])
	assert.NotContains(t, testsEnv, "RUSTFLAGS", "plain sessions are not instrumented")

	covEnv := captured[1].ExtraEnv
	assert.Equal(t, "0", covEnv["SOURCE_DATE_EPOCH"])
	assert.Equal(t, "-Cinstrument-coverage", covEnv["RUSTFLAGS"])
	assert.Contains(t, covEnv["LLVM_PROFILE_FILE"], "%p")
}

func TestRunSession_ChildFailureIsFailResult(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"lint"}})
	exec.runFn = func(cmd types.Command) error {
		if cmd.Bin == "black" {
			return &ChildProcessError{Command: cmd.String(), ExitCode: 1}
		}
		return nil
	}

	result, err := r.RunSession(context.Background(), sessionByName(t, r, "lint"))
	require.NoError(t, err, "a failing child process is a result, not an orchestration error")
	assert.Equal(t, types.SessionStatusFail, result.Status)
	assert.True(t, IsChildProcessError(result.Error))

	// The session stops at the failing step
	assert.NotContains(t, exec.binaries(), "check-manifest")
	assert.NotContains(t, exec.binaries(), "mypy")
}

func TestRunSession_OrchestrationErrorPropagates(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"lint"}})
	exec.runFn = func(cmd types.Command) error {
		return errors.New("executor wiring broke")
	}

	result, err := r.RunSession(context.Background(), sessionByName(t, r, "lint"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorContains(t, err, "executor wiring broke")
}

func TestRunSelected_AllPass(t *testing.T) {
	r, _ := newTestRunner(t, testRunnerConfig{sessions: []string{"lint", "rust-check"}})

	result, err := r.RunSelected(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.SessionStatusPass, result.Status)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "lint", result.Results[0].Name, "sessions run in registry order")
	assert.Equal(t, "rust-check", result.Results[1].Name)
	assert.Equal(t, 2, result.Stats.Total)
	assert.Equal(t, 2, result.Stats.Passed)
	assert.Equal(t, 0, result.Stats.Failed)
}

func TestRunSelected_FailFast(t *testing.T) {
	r, exec := newTestRunner(t, testRunnerConfig{sessions: []string{"tests", "lint"}})
	exec.runFn = func(cmd types.Command) error {
		if cmd.Bin == "pytest" {
			return &ChildProcessError{Command: cmd.String(), ExitCode: 2}
		}
		return nil
	}

	result, err := r.RunSelected(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.SessionStatusFail, result.Status)
	require.Len(t, result.Results, 1, "remaining sessions are aborted after a failure")
	assert.Equal(t, "tests", result.Results[0].Name)
	assert.Equal(t, 1, result.Stats.Failed)
	assert.NotContains(t, exec.binaries(), "ruff", "the lint session never starts")
}

func TestRunSelected_WithFileLogger(t *testing.T) {
	logDir := t.TempDir()
	fileLogger, err := logging.NewFileLogger(logDir, "file-logger-run")
	require.NoError(t, err)

	r, _ := newTestRunner(t, testRunnerConfig{sessions: []string{"lint"}})
	r.SetFileLogger(fileLogger)

	result, err := r.RunSelected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file-logger-run", result.RunID, "the run adopts the file logger's ID")

	require.NoError(t, fileLogger.Complete(result.RunID))
	assert.FileExists(t, filepath.Join(fileLogger.GetLogDir(), "all.log"))
	assert.FileExists(t, filepath.Join(fileLogger.GetLogDir(), "lint.log"))
}

func TestExtrasSpec(t *testing.T) {
	tests := []struct {
		name   string
		extras []string
		want   string
	}{
		{name: "no extras", extras: nil, want: "."},
		{name: "single extra", extras: []string{"test"}, want: ".[test]"},
		{name: "multiple extras", extras: []string{"test", "ssh"}, want: ".[test,ssh]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extrasSpec(tc.extras))
		})
	}
}

func TestDetermineCheckStatus(t *testing.T) {
	mk := func(statuses ...types.SessionStatus) *CheckResult {
		result := &CheckResult{}
		for i, status := range statuses {
			result.Results = append(result.Results, &types.SessionResult{
				Name:   fmt.Sprintf("session-%d", i),
				Status: status,
			})
		}
		return result
	}

	assert.Equal(t, types.SessionStatusSkip, determineCheckStatus(mk()))
	assert.Equal(t, types.SessionStatusSkip, determineCheckStatus(mk(types.SessionStatusSkip, types.SessionStatusSkip)))
	assert.Equal(t, types.SessionStatusFail, determineCheckStatus(mk(types.SessionStatusPass, types.SessionStatusFail)))
	assert.Equal(t, types.SessionStatusPass, determineCheckStatus(mk(types.SessionStatusPass, types.SessionStatusSkip)))
}

func TestCheckResultString(t *testing.T) {
	result := &CheckResult{
		Status:   types.SessionStatusFail,
		Duration: 90 * time.Second,
		Stats:    ResultStats{Total: 2, Passed: 1, Failed: 1},
		Results: []*types.SessionResult{
			{Name: "tests", Kind: types.SessionKindTest, Status: types.SessionStatusPass, Duration: time.Minute},
			{Name: "lint", Kind: types.SessionKindLint, Status: types.SessionStatusFail, Duration: 30 * time.Second,
				Error: errors.New("command \"black --check .\" failed with exit code 1")},
		},
	}

	out := result.String()
	assert.Contains(t, out, "Check Run Results (90.0s):")
	assert.Contains(t, out, "Total: 2, Passed: 1, Failed: 1, Skipped: 0")
	assert.Contains(t, out, "├── Session: tests (60.0s) [status=pass]")
	assert.Contains(t, out, "└── Session: lint (30.0s) [status=fail]")
	assert.Contains(t, out, "exit code 1")
}
