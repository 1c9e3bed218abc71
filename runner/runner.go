package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-checks/coverage"
	"github.com/ethereum-optimism/infra/op-checks/logging"
	"github.com/ethereum-optimism/infra/op-checks/metrics"
	"github.com/ethereum-optimism/infra/op-checks/registry"
	"github.com/ethereum-optimism/infra/op-checks/types"
)

// CheckResult captures the complete check run results
type CheckResult struct {
	Results  []*types.SessionResult
	Status   types.SessionStatus
	Duration time.Duration
	Stats    ResultStats
	RunID    string
}

// ResultStats tracks session statistics for a check run
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time
}

// SessionRunner defines the interface for running check sessions
type SessionRunner interface {
	RunSelected(ctx context.Context) (*CheckResult, error)
	RunSession(ctx context.Context, session types.SessionDefinition) (*types.SessionResult, error)
}

// SessionRunnerWithFileLogger extends the SessionRunner interface with a
// method to set the file logger after creation
type SessionRunnerWithFileLogger interface {
	SessionRunner
	SetFileLogger(logger *logging.FileLogger)
}

// runner struct implements SessionRunner interface
type runner struct {
	registry     *registry.Registry
	sessions     []types.SessionDefinition
	project      types.Project
	repoDir      string // Repository the sessions operate on
	envDir       string // Virtualenv root holding the installed package
	pythonBinary string // Path to the Python interpreter
	cargoBinary  string // Path to the cargo binary
	forwardArgs  []string
	extraEnv     map[string]string
	runID        string
	fileLogger   *logging.FileLogger // Logger for storing session output
	log          log.Logger
	tracer       trace.Tracer
	newExecutor  func(cfg ExecutorConfig) (Executor, error)
}

// Config holds configuration for creating a new runner
type Config struct {
	Registry     *registry.Registry
	RepoDir      string
	EnvDir       string
	Sessions     []string // session names to run; empty runs all
	PythonBinary string
	CargoBinary  string
	ForwardArgs  []string // extra arguments forwarded verbatim to the test runner
	ExtraEnv     map[string]string
	FileLogger   *logging.FileLogger
	Log          log.Logger
}

// NewSessionRunner creates a new session runner instance
func NewSessionRunner(cfg Config) (SessionRunner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.RepoDir == "" {
		return nil, fmt.Errorf("repo directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.PythonBinary == "" {
		cfg.PythonBinary = "python"
	}
	if cfg.CargoBinary == "" {
		cfg.CargoBinary = "cargo"
	}

	sessions, err := cfg.Registry.Select(cfg.Sessions)
	if err != nil {
		return nil, err
	}

	cfg.Log.Debug("NewSessionRunner()", "sessions", len(sessions), "repoDir", cfg.RepoDir,
		"envDir", cfg.EnvDir, "pythonBinary", cfg.PythonBinary, "cargoBinary", cfg.CargoBinary,
		"forwardArgs", strings.Join(cfg.ForwardArgs, " "))

	return &runner{
		registry:     cfg.Registry,
		sessions:     sessions,
		project:      cfg.Registry.Project(),
		repoDir:      cfg.RepoDir,
		envDir:       cfg.EnvDir,
		pythonBinary: cfg.PythonBinary,
		cargoBinary:  cfg.CargoBinary,
		forwardArgs:  cfg.ForwardArgs,
		extraEnv:     cfg.ExtraEnv,
		fileLogger:   cfg.FileLogger,
		log:          cfg.Log,
		tracer:       otel.Tracer("session runner"),
		newExecutor:  NewExecutor,
	}, nil
}

// RunSelected implements the SessionRunner interface. Sessions run in
// registry order; the first failing session aborts the remaining ones.
func (r *runner) RunSelected(ctx context.Context) (*CheckResult, error) {
	// Use fileLogger's runID if available, otherwise generate new
	if r.fileLogger != nil {
		r.runID = r.fileLogger.GetRunID()
	} else {
		r.runID = uuid.New().String()
	}

	ctx, span := r.tracer.Start(ctx, "run selected sessions")
	defer span.End()

	start := time.Now()
	r.log.Debug("Running selected sessions", "run_id", r.runID, "count", len(r.sessions))

	result := &CheckResult{
		RunID: r.runID,
		Stats: ResultStats{StartTime: start},
	}

	for _, session := range r.sessions {
		sessionResult, err := r.RunSession(ctx, session)
		if err != nil {
			return nil, fmt.Errorf("running session %s: %w", session.Name, err)
		}

		result.Results = append(result.Results, sessionResult)
		result.updateStats(sessionResult)

		if r.fileLogger != nil {
			if err := r.fileLogger.LogSessionResult(sessionResult, r.runID); err != nil {
				r.log.Error("Failed to log session result", "session", session.Name, "error", err)
			}
		}

		if sessionResult.Status == types.SessionStatusFail {
			r.log.Error("Session failed, aborting remaining sessions", "session", session.Name)
			break
		}
	}

	result.Duration = time.Since(start)
	result.Status = determineCheckStatus(result)
	result.Stats.EndTime = time.Now()
	return result, nil
}

// RunSession implements the SessionRunner interface. A failing child process
// is reported through the result status; returned errors are reserved for
// orchestration failures.
func (r *runner) RunSession(ctx context.Context, session types.SessionDefinition) (*types.SessionResult, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("session %s", session.Name))
	defer span.End()

	r.log.Info("Running session", "session", session.Name, "kind", session.Kind)

	exec, err := r.sessionExecutor(session)
	if err != nil {
		return nil, fmt.Errorf("creating executor for session %s: %w", session.Name, err)
	}

	result := &types.SessionResult{
		Name:   session.Name,
		Kind:   session.Kind,
		Status: types.SessionStatusPass,
	}

	start := time.Now()
	err = r.dispatch(ctx, exec, session)
	result.Duration = time.Since(start)

	if err != nil {
		if !IsChildProcessError(err) {
			return nil, fmt.Errorf("session %s: %w", session.Name, err)
		}
		result.Status = types.SessionStatusFail
		result.Error = err
	}

	metrics.RecordSession(r.runID, session.Name, string(session.Kind), result.Status)
	return result, nil
}

// SetFileLogger sets the file logger for the runner
func (r *runner) SetFileLogger(logger *logging.FileLogger) {
	r.fileLogger = logger
}

// sessionExecutor builds the executor all of a session's commands run
// through. Coverage sessions get the instrumentation env layered on so every
// command in the session, including the interpreter-driven test run, writes
// profile fragments.
func (r *runner) sessionExecutor(session types.SessionDefinition) (Executor, error) {
	extraEnv := make(map[string]string, len(r.extraEnv)+2)
	for k, v := range r.extraEnv {
		extraEnv[k] = v
	}
	if session.Kind == types.SessionKindRustCoverage {
		for k, v := range coverage.InstrumentationEnv() {
			extraEnv[k] = v
		}
	}

	cfg := ExecutorConfig{
		DefaultDir: r.repoDir,
		ExtraEnv:   extraEnv,
		Log:        r.log.New("session", session.Name),
	}
	if r.fileLogger != nil {
		w, err := r.fileLogger.SessionLogWriter(session.Name)
		if err != nil {
			r.log.Error("Failed to create session log writer", "session", session.Name, "error", err)
		} else {
			cfg.LogWriter = w
		}
	}
	return r.newExecutor(cfg)
}

func (r *runner) dispatch(ctx context.Context, exec Executor, session types.SessionDefinition) error {
	switch session.Kind {
	case types.SessionKindTest:
		return r.runTestSession(ctx, exec, session)
	case types.SessionKindDocs:
		return r.runDocsSession(ctx, exec, session)
	case types.SessionKindLinkcheck:
		return r.runLinkcheckSession(ctx, exec, session)
	case types.SessionKindLint:
		return r.runLintSession(ctx, exec, session)
	case types.SessionKindRustCheck:
		return r.runRustCheckSession(ctx, exec, session)
	case types.SessionKindRustCoverage:
		return r.runRustCoverageSession(ctx, exec, session)
	default:
		return fmt.Errorf("unknown session kind %q", session.Kind)
	}
}

// install runs a constrained install into the session environment.
func (r *runner) install(ctx context.Context, exec Executor, args ...string) error {
	cmdArgs := []string{"-m", "pip", "install", "-v", "-c", r.project.ConstraintsFile}
	cmdArgs = append(cmdArgs, args...)
	return exec.Run(ctx, types.Command{Bin: r.pythonBinary, Args: cmdArgs})
}

// extrasSpec renders the project install target with optional extras,
// ".[test,ssh]" style.
func extrasSpec(extras []string) string {
	if len(extras) == 0 {
		return "."
	}
	return fmt.Sprintf(".[%s]", strings.Join(extras, ","))
}

// runTestSession installs the package with the session's extras, the vectors
// companion package in editable mode, and runs the test suite. Forwarded
// arguments are passed to the test runner verbatim, before the tests path.
func (r *runner) runTestSession(ctx context.Context, exec Executor, session types.SessionDefinition) error {
	if err := r.install(ctx, exec, extrasSpec(session.InstallExtras)); err != nil {
		return err
	}
	if err := r.install(ctx, exec, "-e", "./"+r.project.VectorsDir); err != nil {
		return err
	}
	if err := exec.Run(ctx, types.Command{Bin: r.pythonBinary, Args: []string{"-m", "pip", "list"}}); err != nil {
		return err
	}

	args := []string{"-n", "auto", "--dist=worksteal"}
	if session.Coverage {
		for _, target := range r.project.CoverageTargets {
			args = append(args, "--cov="+target)
		}
	}
	args = append(args, "--durations=10")
	args = append(args, r.forwardArgs...)
	args = append(args, r.project.TestsDir+"/")

	return exec.Run(ctx, types.Command{Bin: "pytest", Args: args})
}

// runDocsSession builds the documentation with each configured builder and
// then validates the distribution metadata.
func (r *runner) runDocsSession(ctx context.Context, exec Executor, session types.SessionDefinition) error {
	if err := r.install(ctx, exec, extrasSpec(session.InstallExtras)); err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp("", "op-checks-docs-")
	if err != nil {
		return fmt.Errorf("creating doctree directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	docs := r.project.DocsDir
	doctrees := filepath.Join(tempDir, "doctrees")
	builds := [][]string{
		{"-T", "-W", "-b", "html", "-d", doctrees, docs, docs + "/_build/html"},
		{"-T", "-W", "-b", "latex", "-d", doctrees, docs, docs + "/_build/latex"},
		{"-T", "-W", "-b", "doctest", "-d", doctrees, docs, docs + "/_build/html"},
		{"-T", "-W", "-b", "spelling", docs, docs + "/_build/html"},
	}
	for _, args := range builds {
		if err := exec.Run(ctx, types.Command{Bin: "sphinx-build", Args: args}); err != nil {
			return err
		}
	}

	// twine check validates that the README renders, so an sdist has to be
	// built first to give it something to check.
	if err := exec.Run(ctx, types.Command{Bin: r.pythonBinary, Args: []string{"-m", "build", "--sdist"}}); err != nil {
		return err
	}
	return exec.Run(ctx, types.Command{Bin: "twine", Args: []string{"check", "dist/*"}})
}

// runLinkcheckSession verifies external links in the documentation.
func (r *runner) runLinkcheckSession(ctx context.Context, exec Executor, session types.SessionDefinition) error {
	if err := r.install(ctx, exec, extrasSpec(session.InstallExtras)); err != nil {
		return err
	}

	docs := r.project.DocsDir
	return exec.Run(ctx, types.Command{
		Bin:  "sphinx-build",
		Args: []string{"-W", "-b", "linkcheck", docs, docs + "/_build/html"},
	})
}

// runLintSession runs the static checkers against the configured targets.
func (r *runner) runLintSession(ctx context.Context, exec Executor, session types.SessionDefinition) error {
	if err := r.install(ctx, exec, extrasSpec(session.InstallExtras)); err != nil {
		return err
	}

	steps := []types.Command{
		{Bin: "ruff", Args: []string{"."}},
		{Bin: "black", Args: []string{"--check", "."}},
		{Bin: "check-manifest"},
		{Bin: "mypy", Args: r.project.LintTargets},
	}
	for _, cmd := range steps {
		if err := exec.Run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// runRustCheckSession checks formatting, lints and tests of the native crate.
// The cargo commands run in the crate directory, set per command so the
// runner's own working directory never changes.
func (r *runner) runRustCheckSession(ctx context.Context, exec Executor, session types.SessionDefinition) error {
	if err := r.install(ctx, exec, extrasSpec(session.InstallExtras)); err != nil {
		return err
	}

	rustDir := filepath.Join(r.repoDir, r.project.RustDir)
	checks := [][]string{
		{"fmt", "--all", "--", "--check"},
		{"clippy", "--", "-D", "warnings"},
		{"test", "--no-default-features"},
	}
	for _, args := range checks {
		if err := exec.Run(ctx, types.Command{Bin: r.cargoBinary, Args: args, Dir: rustDir}); err != nil {
			return err
		}
	}
	return nil
}

// runRustCoverageSession runs the instrumented test suite and drives the
// coverage pipeline over the fragments it leaves behind. The session executor
// already carries the instrumentation env, so the pipeline's commands and the
// test suite both write profile data.
func (r *runner) runRustCoverageSession(ctx context.Context, exec Executor, session types.SessionDefinition) error {
	var sink io.Writer
	if r.fileLogger != nil {
		w, err := r.fileLogger.RawMessageWriter(session.Name)
		if err != nil {
			r.log.Error("Failed to create raw message sink", "session", session.Name, "error", err)
		} else {
			sink = w
		}
	}

	pipeline, err := coverage.NewPipeline(coverage.Config{
		RepoDir:     r.repoDir,
		EnvDir:      r.envDir,
		Project:     r.project,
		CargoBinary: r.cargoBinary,
		Executor:    exec,
		Log:         r.log.New("session", session.Name),
		TestSuite: func(ctx context.Context) error {
			return r.runTestSession(ctx, exec, session)
		},
		RawMessageSink: sink,
	})
	if err != nil {
		return err
	}
	return pipeline.Run(ctx)
}

// updateStats updates the check run statistics with a session result
func (r *CheckResult) updateStats(result *types.SessionResult) {
	r.Stats.Total++
	switch result.Status {
	case types.SessionStatusPass:
		r.Stats.Passed++
	case types.SessionStatusFail:
		r.Stats.Failed++
	case types.SessionStatusSkip:
		r.Stats.Skipped++
	}
}

// formatDuration formats the duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// String returns a formatted string representation of the check run results
func (r *CheckResult) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Check Run Results (%s):\n", formatDuration(r.Duration)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d, Skipped: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Skipped))

	for i, result := range r.Results {
		prefix, errPrefix := "├──", "│       └──"
		if i == len(r.Results)-1 {
			prefix, errPrefix = "└──", "        └──"
		}
		b.WriteString(fmt.Sprintf("%s Session: %s (%s) [status=%s]\n",
			prefix, result.Name, formatDuration(result.Duration), result.Status))
		if result.Error != nil {
			b.WriteString(fmt.Sprintf("%s Error: %s\n", errPrefix, result.Error.Error()))
		}
	}
	return b.String()
}

// determineCheckStatus determines the overall status of the check run
func determineCheckStatus(result *CheckResult) types.SessionStatus {
	if len(result.Results) == 0 {
		return types.SessionStatusSkip
	}

	allSkipped := true
	anyFailed := false

	for _, res := range result.Results {
		if res.Status != types.SessionStatusSkip {
			allSkipped = false
		}
		if res.Status == types.SessionStatusFail {
			anyFailed = true
		}
	}

	return determineStatusFromFlags(allSkipped, anyFailed)
}

// determineStatusFromFlags is a helper that returns a status based on common flag logic
func determineStatusFromFlags(allSkipped, anyFailed bool) types.SessionStatus {
	if allSkipped {
		return types.SessionStatusSkip
	}
	if anyFailed {
		return types.SessionStatusFail
	}
	return types.SessionStatusPass
}

// Make sure the runner type implements both interfaces
var _ SessionRunnerWithFileLogger = &runner{}
